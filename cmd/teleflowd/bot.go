package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/jdelaire/teleflow/core"
	"github.com/jdelaire/teleflow/core/ratelimit"
	"github.com/jdelaire/teleflow/core/router"
)

// defaultMessages is the English catalogue used when no language directory
// is configured.
var defaultMessages = map[string]string{
	"help":        "Commands:\n/ping\n/echo <word>\n/count\n/name\n/lang\n/help\nInline: @bot <text>",
	"pong":        "pong",
	"echo":        "%s",
	"count":       "This chat has counted to %d.",
	"ask_name":    "What is your name?",
	"ask_age":     "How old are you?",
	"age_invalid": "Please send your age as a whole number.",
	"greet":       "Nice to meet you, %s (%s).",
	"choose_lang": "Choose a language:",
	"lang_set":    "Language set.",
	"unknown":     "Unknown command. Send /help.",
}

var languageChoices = []string{"en", "fr", "de"}

const (
	countField = "count"
	nameField  = "name"
	langPrefix = "lang:"
)

// sampleBot is the demonstration controller wired by teleflowd.
type sampleBot struct {
	limiter *ratelimit.Limiter
}

func newSampleBot(limiter *ratelimit.Limiter) *sampleBot {
	return &sampleBot{limiter: limiter}
}

func (b *sampleBot) Handle(c *core.Context) error {
	_, err := c.SendMessage(c.T("help"))
	return err
}

func (b *sampleBot) Routes() map[string]core.Handler {
	return map[string]core.Handler{
		"ping":  b.ping,
		"echo":  b.echo,
		"count": b.count,
		"name":  b.name,
		"lang":  b.lang,
	}
}

func (b *sampleBot) commands() []*router.Command {
	return []*router.Command{
		router.MustRegexp(`^/(help|start)(@\w+)?$`, ""),
		router.MustRegexp(`^/ping(@\w+)?$`, "ping"),
		router.Param("/echo :word", "echo"),
		router.MustRegexp(`^/count(@\w+)?$`, "count"),
		router.MustRegexp(`^/name(@\w+)?$`, "name"),
		router.MustRegexp(`^/lang(@\w+)?$`, "lang"),
	}
}

// Before throttles each sender and logs the command that matched.
func (b *sampleBot) Before(cmd *router.Command, c *core.Context) (*core.Context, error) {
	if b.limiter != nil && c.UserID() != 0 {
		if err := b.limiter.Allow(c.UserID()); err != nil {
			return nil, err
		}
	}
	if cmd != nil {
		c.Logger.Info("command", "command", cmd.String(), "chat_id", c.ChatID, "user_id", c.UserID())
	}
	return c, nil
}

func (b *sampleBot) ping(c *core.Context) error {
	_, err := c.Reply(c.T("pong"))
	return err
}

func (b *sampleBot) echo(c *core.Context) error {
	_, err := c.Reply(c.T("echo", c.Param("word")))
	return err
}

func (b *sampleBot) count(c *core.Context) error {
	var n int
	if _, err := c.ChatSession.Get(countField, &n); err != nil {
		return err
	}
	n++
	if err := c.ChatSession.Set(c.Context(), countField, n); err != nil {
		return err
	}
	_, err := c.SendMessage(c.T("count", n))
	return err
}

func (b *sampleBot) name(c *core.Context) error {
	form := &core.Form{
		Questions: []core.Question{
			{Field: nameField, Prompt: c.T("ask_name")},
			{Field: "age", Prompt: c.T("ask_age"), Validate: func(answer string) error {
				if n, err := strconv.Atoi(strings.TrimSpace(answer)); err != nil || n <= 0 {
					return errors.New(c.T("age_invalid"))
				}
				return nil
			}},
		},
		Done: func(c *core.Context, answers map[string]string) error {
			if c.UserSession != nil {
				if err := c.UserSession.Set(c.Context(), nameField, answers[nameField]); err != nil {
					return err
				}
			}
			_, err := c.SendMessage(c.T("greet", answers[nameField], answers["age"]))
			return err
		},
	}
	return form.Run(c)
}

func (b *sampleBot) lang(c *core.Context) error {
	var row []telego.InlineKeyboardButton
	data := make([]string, 0, len(languageChoices))
	for _, code := range languageChoices {
		row = append(row, telego.InlineKeyboardButton{Text: strings.ToUpper(code), CallbackData: langPrefix + code})
		data = append(data, langPrefix+code)
	}

	c.WaitForCallbackQuery(data, func(next *core.Context) error {
		code := strings.TrimPrefix(next.Text, langPrefix)
		if next.UserSession != nil {
			if err := next.UserSession.Set(next.Context(), core.LanguageField, code); err != nil {
				return err
			}
		}
		if err := next.AnswerCallbackQuery(next.T("lang_set")); err != nil {
			return err
		}
		_, err := next.SendMessage(next.T("lang_set"))
		return err
	})

	params := tu.Message(tu.ID(c.ChatID), c.T("choose_lang"))
	params.ReplyMarkup = &telego.InlineKeyboardMarkup{InlineKeyboard: [][]telego.InlineKeyboardButton{row}}
	_, err := c.API.SendMessage(c.Context(), params)
	return err
}

// activityLog logs every message that reaches routing.
type activityLog struct{}

func (activityLog) Handle(c *core.Context) error {
	c.Logger.Debug("message", "chat_id", c.ChatID, "user_id", c.UserID(), "length", len(c.Text))
	return nil
}

// fallback answers messages no route matched.
type fallback struct{}

func (fallback) Handle(c *core.Context) error {
	if !strings.HasPrefix(c.Text, "/") {
		return nil
	}
	_, err := c.Reply(c.T("unknown"))
	return err
}

// staleButtons acknowledges callback queries whose continuation is gone.
type staleButtons struct{}

func (staleButtons) Handle(c *core.Context) error {
	return c.AnswerCallbackQuery("")
}

// inlineSearch answers inline queries with numbered variations of the
// query, paged.
type inlineSearch struct {
	total int
}

func (s inlineSearch) Handle(c *core.Context) error {
	query := strings.TrimSpace(c.Text)
	if query == "" {
		return c.AnswerInlineQuery([]telego.InlineQueryResult{}, "")
	}
	results := make([]telego.InlineQueryResult, 0, s.total)
	for i := 1; i <= s.total; i++ {
		text := fmt.Sprintf("%s #%d", query, i)
		results = append(results, core.ArticleResult(strconv.Itoa(i), text, text))
	}
	return c.AnswerInlineQueryPaged(results)
}

func (s inlineSearch) ChosenResult(c *core.Context) error {
	c.Logger.Info("inline result chosen", "user_id", c.UserID(), "result_id", c.ChosenResult.ResultID)
	return nil
}

// registerSampleBot wires the sample controllers into d.
func registerSampleBot(d *core.Dispatcher, limiter *ratelimit.Limiter) error {
	bot := newSampleBot(limiter)
	d.Any(activityLog{})
	if err := d.When(bot, bot.commands()...); err != nil {
		return err
	}
	d.Otherwise(fallback{})
	d.CallbackQuery(staleButtons{})
	d.InlineQuery(inlineSearch{total: 120})
	return nil
}
