// Package api exposes typed Bot API calls on top of the request scheduler.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core/scheduler"
)

// Doer runs one scheduled request and returns the raw result.
type Doer interface {
	Do(ctx context.Context, req scheduler.Request) (json.RawMessage, error)
}

// Client issues Bot API calls through a Doer.
type Client struct {
	doer Doer
}

// New creates a Client.
func New(doer Doer) *Client {
	return &Client{doer: doer}
}

// Call runs method with params and decodes the result into out. out may be
// nil when the result is not needed.
func (c *Client) Call(ctx context.Context, method string, params any, out any, files ...scheduler.File) error {
	raw, err := c.doer.Do(ctx, scheduler.Request{Method: method, Params: params, Files: files})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*telego.User, error) {
	var u telego.User
	if err := c.Call(ctx, "getMe", struct{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	var m telego.Message
	if err := c.Call(ctx, "sendMessage", params, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EditMessageText replaces the text of a sent message.
func (c *Client) EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) error {
	return c.Call(ctx, "editMessageText", params, nil)
}

// SendChatAction shows a typing or upload indicator.
func (c *Client) SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error {
	return c.Call(ctx, "sendChatAction", params, nil)
}

// AnswerCallbackQuery acknowledges a callback query.
func (c *Client) AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error {
	return c.Call(ctx, "answerCallbackQuery", params, nil)
}

// AnswerInlineQuery answers an inline query.
func (c *Client) AnswerInlineQuery(ctx context.Context, params *telego.AnswerInlineQueryParams) error {
	return c.Call(ctx, "answerInlineQuery", params, nil)
}

// DocumentParams describes a document upload.
type DocumentParams struct {
	ChatID  int64  `json:"chat_id"`
	Caption string `json:"caption,omitempty"`
}

// SendDocument uploads data as a document named name.
func (c *Client) SendDocument(ctx context.Context, params DocumentParams, name string, data []byte) (*telego.Message, error) {
	var m telego.Message
	file := scheduler.File{Field: "document", Name: name, Data: data}
	if err := c.Call(ctx, "sendDocument", params, &m, file); err != nil {
		return nil, err
	}
	return &m, nil
}
