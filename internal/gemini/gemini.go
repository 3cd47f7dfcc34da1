// Package gemini provides the conversational AI collaborator backed by
// the Google Gemini API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ismatov/assistant-bot/internal/session"
)

// Client sends multi-turn chat requests to Gemini.
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, apiKey string, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	inner, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{client: inner, logger: logger}, nil
}

// Send submits the prompt with the prior history and returns the reply
// plus the updated transcript. The model name is passed through as-is;
// the API rejects names it does not serve. On failure the original
// history is returned unchanged so the caller loses nothing.
func (c *Client) Send(ctx context.Context, prompt string, history []session.Turn, model string) (string, []session.Turn, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == session.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", history, fmt.Errorf("gemini generate: %w", err)
	}

	reply := resp.Text()
	if reply == "" {
		return "", history, fmt.Errorf("gemini returned an empty response")
	}

	updated := append(append([]session.Turn(nil), history...),
		session.Turn{Role: session.RoleUser, Text: prompt},
		session.Turn{Role: session.RoleModel, Text: reply},
	)
	return reply, updated, nil
}
