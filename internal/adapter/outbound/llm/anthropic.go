// Package llm is the Anthropic-backed implementation of
// smartrule.LLMClient, wrapping github.com/anthropics/anthropic-sdk-go's
// Messages API behind the single Complete(system, user) seam the smart
// rule evaluator needs.
package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used here,
// satisfied by *sdk.MessageService, letting tests substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements smartrule.LLMClient against Claude.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds a Client from an Anthropic Messages client, a model
// identifier, and the max_tokens cap the gateway configures for
// smart-rule evaluation (spec §4.6, §9 smart_rule.max_tokens).
func New(msg MessagesClient, model string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic messages client is required")
	}
	if model == "" {
		return nil, errors.New("llm: model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Client{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client, reading transport defaults the SDK itself applies.
func NewFromAPIKey(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, model, maxTokens)
}

// Complete implements smartrule.LLMClient: one non-streaming Messages.New
// call, returning the first text block's content.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// Temperature is pinned to zero: the smart-rule evaluator needs the
	// same verdict for the same (tool, args, condition) input every time,
	// not the most plausible-sounding one (spec §4.6).
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: sdk.Float(0),
		System:      []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", errors.New("anthropic: response contained no text block")
}
