// Package telegram implements the Bot API transport: a long-polling
// client for receiving updates and the send surface the bridge and the
// weather broadcast deliver through.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ismatov/assistant-bot/internal/httpkit"
)

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// DefaultPollTimeout is the getUpdates long-poll window.
const DefaultPollTimeout = 30 * time.Second

// maxMessageLen is the per-message text budget. Telegram caps at 4096;
// staying under it leaves room for closing tags when chunking.
const maxMessageLen = 4000

// updateBuffer sizes the inbound update channel.
const updateBuffer = 64

// APIError is a Bot API-level failure (ok=false in the envelope).
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// isParseError reports whether the failure is Telegram rejecting the
// message markup, which the senders recover from by retrying plain.
func isParseError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Description), "parse")
}

// Client talks to the Bot API for one bot token.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	pollTimeout time.Duration
	logger      *slog.Logger

	updates chan Update
}

// NewClient creates a Bot API client. baseURL is normally
// DefaultBaseURL; tests point it at an httptest server.
func NewClient(baseURL, token string, pollTimeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:        httpkit.NewClient(httpkit.WithTimeout(pollTimeout + 30*time.Second)),
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		pollTimeout: pollTimeout,
		logger:      logger,
		updates:     make(chan Update, updateBuffer),
	}
}

func (c *Client) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// apiResponse is the Bot API envelope around every result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// call POSTs a JSON payload to a Bot API method and decodes the result
// into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	return decodeEnvelope(method, resp.Body, out)
}

func decodeEnvelope(method string, r io.Reader, out any) error {
	var envelope apiResponse
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s: %w", method, &APIError{Code: envelope.ErrorCode, Description: envelope.Description})
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetMe fetches the bot's own account, verifying the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Updates is the inbound update stream fed by Poll.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Poll long-polls getUpdates until ctx is cancelled, pushing every
// update into the channel returned by Updates. Transient poll failures
// back off for a second and retry.
func (c *Client) Poll(ctx context.Context) {
	defer close(c.updates)

	c.logger.Info("telegram polling started", "timeout", c.pollTimeout)

	var offset int64
	for {
		updates, next, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("telegram polling stopped")
				return
			}
			c.logger.Warn("telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				c.logger.Info("telegram polling stopped")
				return
			case <-time.After(time.Second):
			}
			continue
		}
		offset = next

		for _, u := range updates {
			select {
			case <-ctx.Done():
				c.logger.Info("telegram polling stopped")
				return
			case c.updates <- u:
			}
		}
	}
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]Update, int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.pollTimeout+10*time.Second)
	defer cancel()

	var updates []Update
	err := c.call(reqCtx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(c.pollTimeout.Seconds()),
		AllowedUpdates: []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type sendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// Send delivers one HTML message, optionally with an inline keyboard,
// and returns the sent message so callers can edit it later. When
// Telegram rejects the markup the text is resent plain so the user
// still gets a reply.
func (c *Client) Send(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
		ReplyMarkup:           keyboard,
	}, &msg)
	if isParseError(err) {
		c.logger.Warn("telegram html send rejected, retrying plain", "chat_id", chatID, "error", err)
		err = c.call(ctx, "sendMessage", sendMessageRequest{
			ChatID:      chatID,
			Text:        text,
			ReplyMarkup: keyboard,
		}, &msg)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendHTML delivers text as one or more HTML messages, chunking long
// text on line boundaries. It satisfies the broadcast sender contract.
func (c *Client) SendHTML(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := c.Send(ctx, chatID, chunk, nil); err != nil {
			return err
		}
	}
	return nil
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditHTML rewrites a previously sent message in place.
func (c *Client) EditHTML(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error {
	err := c.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard,
	}, nil)
	if isParseError(err) {
		err = c.call(ctx, "editMessageText", editMessageTextRequest{
			ChatID:      chatID,
			MessageID:   messageID,
			Text:        text,
			ReplyMarkup: keyboard,
		}, nil)
	}
	return err
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]int64{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// SendChatAction shows a status indicator ("typing", "upload_voice").
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// AnswerCallback acknowledges a callback query, optionally with a
// short notification text.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]string{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// SetMyCommands publishes the command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return c.call(ctx, "setMyCommands", map[string]any{
		"commands": commands,
	}, nil)
}

// SendAudio uploads a local audio file with multipart form data.
func (c *Client) SendAudio(ctx context.Context, chatID int64, path, title, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sendAudio: open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"title":   title,
		"caption": caption,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("sendAudio: write field %s: %w", name, err)
		}
	}

	part, err := w.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("sendAudio: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("sendAudio: read %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sendAudio: finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("sendAudio"), &body)
	if err != nil {
		return fmt.Errorf("sendAudio: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendAudio: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	return decodeEnvelope("sendAudio", resp.Body, nil)
}

// splitMessage breaks text into chunks of at most limit bytes,
// preferring newline boundaries. Text within the limit passes through
// as a single chunk.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
