package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fablecore/chronicle/internal/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface check
var _ Service = (*OpenAI)(nil)

// ChatService defines the interface for making chat completion calls.
// This abstraction enables testing without calling the real OpenAI API.
type ChatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI implements the synthesis service using OpenAI chat completions.
type OpenAI struct {
	chat    ChatService
	model   openai.ChatModel
	timeout time.Duration
}

// NewOpenAI creates a new chat-backed synthesis service. Every call carries
// the given timeout; exceeding it surfaces as a transient failure to the
// worker's retry path.
func NewOpenAI(apiKey, model string, timeout time.Duration) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		chat:    client.Chat.Completions,
		model:   openai.ChatModel(model),
		timeout: timeout,
	}
}

// Complete sends a system and user message and returns the raw reply text.
// Exported so the turn analyzer can share the same bounded model call.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.chat.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		}),
		Model: openai.F(o.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion failed: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// RewriteNote produces a complete replacement session note.
func (o *OpenAI) RewriteNote(ctx context.Context, req RewriteRequest) (string, error) {
	raw, err := o.Complete(ctx, rewriteSystemPrompt, buildRewritePrompt(req))
	if err != nil {
		return "", err
	}

	note := strings.TrimSpace(stripCodeFence(raw))
	if note == "" {
		return "", fmt.Errorf("%w: empty rewrite", ErrMalformedOutput)
	}

	return note, nil
}

// DraftEntity produces a validated structured record for a new entity.
func (o *OpenAI) DraftEntity(ctx context.Context, req DraftRequest) (*types.EntityDraft, error) {
	raw, err := o.Complete(ctx, draftSystemPrompt, buildDraftPrompt(req))
	if err != nil {
		return nil, err
	}

	return parseEntityDraft(raw)
}
