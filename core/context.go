package core

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/jdelaire/teleflow/core/api"
	"github.com/jdelaire/teleflow/core/i18n"
	"github.com/jdelaire/teleflow/core/session"
)

// LanguageField is the user session field holding a chosen language code.
const LanguageField = "lang"

// ErrNoChat is returned when a chat continuation is requested for an update
// that has no chat.
var ErrNoChat = errors.New("update has no chat")

// Context is what a handler sees of one update.
type Context struct {
	ctx context.Context

	Update        *telego.Update
	Message       *telego.Message
	CallbackQuery *telego.CallbackQuery
	InlineQuery   *telego.InlineQuery
	ChosenResult  *telego.ChosenInlineResult

	ChatID int64
	From   *telego.User
	Text   string
	Params map[string]string

	// ChatSession is nil when the update has no chat; UserSession is nil
	// when it has no sender.
	ChatSession *session.Session
	UserSession *session.Session

	API          *api.Client
	Localization *i18n.Localization
	Logger       *slog.Logger

	conts *continuations
}

// Context returns the context the update is dispatched under.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// UserID returns the sender id, or 0.
func (c *Context) UserID() int64 {
	if c.From == nil {
		return 0
	}
	return c.From.ID
}

// Param returns a parameter bound by the matching command.
func (c *Context) Param(name string) string {
	return c.Params[name]
}

// clone returns a copy with its own Params.
func (c *Context) clone(params map[string]string) *Context {
	cp := *c
	cp.Params = params
	return &cp
}

// Language returns the sender's language: the one stored in the user
// session, else the client's language, else the default.
func (c *Context) Language() *i18n.Language {
	if c.Localization == nil {
		return &i18n.Language{}
	}
	code := ""
	if c.UserSession != nil {
		code = c.UserSession.GetString(LanguageField)
	}
	if code == "" && c.From != nil {
		code = c.From.LanguageCode
	}
	return c.Localization.For(code)
}

// T translates key into the sender's language.
func (c *Context) T(key string, args ...any) string {
	return c.Language().T(key, args...)
}

// WaitForRequest routes the next message in this chat to h instead of the
// router. A later registration for the same chat replaces this one. It
// fails with ErrNoChat when the update has no chat, as for inline queries.
func (c *Context) WaitForRequest(h Handler) error {
	if c.ChatID == 0 {
		return ErrNoChat
	}
	c.conts.waitChat(c.ChatID, h)
	return nil
}

// WaitForCallbackQuery routes the next callback query carrying any of data
// to h. Once one fires, the others are dropped.
func (c *Context) WaitForCallbackQuery(data []string, h Handler) {
	c.conts.waitCallback(data, h)
}

// WaitForInlineQuery routes the sender's next inline query with exactly
// query to h.
func (c *Context) WaitForInlineQuery(query string, h Handler) {
	c.conts.waitInline(query, c.UserID(), h)
}

// SendMessage sends text to the current chat.
func (c *Context) SendMessage(text string) (*telego.Message, error) {
	return c.API.SendMessage(c.Context(), tu.Message(tu.ID(c.ChatID), text))
}

// Reply sends text to the current chat as a reply to the current message.
func (c *Context) Reply(text string) (*telego.Message, error) {
	params := tu.Message(tu.ID(c.ChatID), text)
	if c.Message != nil {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: c.Message.MessageID}
	}
	return c.API.SendMessage(c.Context(), params)
}

// AnswerCallbackQuery acknowledges the current callback query.
func (c *Context) AnswerCallbackQuery(text string) error {
	if c.CallbackQuery == nil {
		return nil
	}
	return c.API.AnswerCallbackQuery(c.Context(), &telego.AnswerCallbackQueryParams{
		CallbackQueryID: c.CallbackQuery.ID,
		Text:            text,
	})
}

// AnswerInlineQuery answers the current inline query.
func (c *Context) AnswerInlineQuery(results []telego.InlineQueryResult, nextOffset string) error {
	if c.InlineQuery == nil {
		return nil
	}
	return c.API.AnswerInlineQuery(c.Context(), &telego.AnswerInlineQueryParams{
		InlineQueryID: c.InlineQuery.ID,
		Results:       results,
		NextOffset:    nextOffset,
	})
}
