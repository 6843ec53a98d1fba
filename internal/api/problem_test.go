package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fablecore/chronicle/internal/store"
)

func TestWriteProblem_KnownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entries/x", nil)
	rec := httptest.NewRecorder()

	WriteProblem(rec, req, http.StatusNotFound, "Resource not found")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != "https://chronicle.dev/errors/not-found" {
		t.Errorf("Type = %q", p.Type)
	}
	if p.Instance != "/api/v1/entries/x" {
		t.Errorf("Instance = %q", p.Instance)
	}
}

func TestWriteProblem_UnknownStatusFallsBack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	WriteProblem(rec, req, http.StatusTeapot, "odd")

	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != "https://chronicle.dev/errors/unknown" {
		t.Errorf("Type = %q", p.Type)
	}
	if p.Title != http.StatusText(http.StatusTeapot) {
		t.Errorf("Title = %q", p.Title)
	}
}

func TestMapStoreError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"task not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"invalid state", store.ErrInvalidTaskState, http.StatusConflict},
		{"unknown", errors.New("disk corrupt"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			MapStoreError(rec, req, tc.err)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestMapStoreError_NeverLeaksDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	MapStoreError(rec, req, errors.New("sensitive internal detail"))

	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Detail != "Internal Server Error" {
		t.Errorf("Detail = %q, internal detail must not leak", p.Detail)
	}
}
