package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core/api"
	"github.com/jdelaire/teleflow/core/i18n"
	"github.com/jdelaire/teleflow/core/router"
	"github.com/jdelaire/teleflow/core/session"
)

// binding is one registration of a controller with its handlers resolved.
type binding struct {
	name       string
	controller Controller
	handlers   map[*router.Command]Handler
}

// Dispatcher resolves sessions and continuations for inbound updates and
// runs the controllers the router selects.
type Dispatcher struct {
	router *router.Router[*binding]
	store  session.Store
	api    *api.Client
	loc    *i18n.Localization
	logger *slog.Logger
	conts  *continuations
}

// NewDispatcher creates a Dispatcher. loc may be nil.
func NewDispatcher(store session.Store, client *api.Client, loc *i18n.Localization, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		router: router.New[*binding](),
		store:  store,
		api:    client,
		loc:    loc,
		logger: logger,
		conts:  newContinuations(),
	}
}

// When routes updates matching any of commands to ctrl. Every handler name
// a command carries must be one of ctrl's routes.
func (d *Dispatcher) When(ctrl Controller, commands ...*router.Command) error {
	b, err := d.bind(ctrl, commands)
	if err != nil {
		return err
	}
	d.router.When(b, commands...)
	return nil
}

// Any runs ctrl for every message-like update that reaches routing.
func (d *Dispatcher) Any(ctrl Controller) {
	b, _ := d.bind(ctrl, nil)
	d.router.Any(b)
}

// Otherwise runs ctrl when no When route matched.
func (d *Dispatcher) Otherwise(ctrl Controller) {
	b, _ := d.bind(ctrl, nil)
	d.router.Otherwise(b)
}

// CallbackQuery sets the controller for callback queries.
func (d *Dispatcher) CallbackQuery(ctrl Controller) {
	b, _ := d.bind(ctrl, nil)
	d.router.CallbackQuery(b)
}

// InlineQuery sets the controller for inline queries and chosen results.
func (d *Dispatcher) InlineQuery(ctrl Controller) {
	b, _ := d.bind(ctrl, nil)
	d.router.InlineQuery(b)
}

func (d *Dispatcher) bind(ctrl Controller, commands []*router.Command) (*binding, error) {
	b := &binding{
		name:       fmt.Sprintf("%T", ctrl),
		controller: ctrl,
		handlers:   make(map[*router.Command]Handler),
	}

	var routes map[string]Handler
	if r, ok := ctrl.(Routable); ok {
		routes = r.Routes()
	}
	for _, cmd := range commands {
		if cmd.Handler == "" {
			continue
		}
		h, ok := routes[cmd.Handler]
		if !ok || h == nil {
			return nil, fmt.Errorf("%s: handler %q: %w", b.name, cmd.Handler, router.ErrUnknownHandler)
		}
		b.handlers[cmd] = h
	}

	if r, ok := ctrl.(APIReceiver); ok {
		r.SetAPI(d.api)
	}
	if r, ok := ctrl.(LocalizationReceiver); ok && d.loc != nil {
		r.SetLocalization(d.loc)
	}
	return b, nil
}

// Dispatch processes one update and returns once every handler it started
// has finished. Handler failures are logged, never returned; the error is
// non-nil only when the update's sessions could not be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context, u telego.Update) error {
	kind := UpdateKind(&u)
	switch {
	case isMessageLike(kind):
		return d.processMessage(ctx, &u, kind)
	case isInlineLike(kind):
		return d.processInline(ctx, &u, kind)
	default:
		d.logger.Error("unsupported update", "update_id", u.UpdateID, "kind", kind)
		return nil
	}
}

func (d *Dispatcher) newContext(ctx context.Context, u *telego.Update) *Context {
	return &Context{
		ctx:          ctx,
		Update:       u,
		API:          d.api,
		Localization: d.loc,
		Logger:       d.logger.With("update_id", u.UpdateID),
		conts:        d.conts,
	}
}

func (d *Dispatcher) processMessage(ctx context.Context, u *telego.Update, kind string) error {
	c := d.newContext(ctx, u)

	hasChat := false
	if msg := messageOf(u); msg != nil {
		c.Message = msg
		c.ChatID = msg.Chat.ID
		c.From = msg.From
		c.Text = messageText(msg)
		hasChat = true
	} else {
		cq := u.CallbackQuery
		c.CallbackQuery = cq
		c.From = &cq.From
		c.Text = cq.Data
		if cq.Message != nil {
			if chat := cq.Message.GetChat(); chat.ID != 0 {
				c.ChatID = chat.ID
				hasChat = true
			}
		}
	}

	if err := d.loadSessions(ctx, c, hasChat); err != nil {
		d.logger.Error("session load failed", "update_id", u.UpdateID, "kind", kind, "error", err)
		return err
	}

	var (
		cont Handler
		ok   bool
	)
	switch kind {
	case KindMessage:
		cont, ok = d.conts.takeChat(c.ChatID)
	case KindCallbackQuery:
		cont, ok = d.conts.takeCallback(c.Text)
	}
	if ok {
		d.invoke("continuation", cont, c)
		return nil
	}

	if kind == KindCallbackQuery {
		b, ok := d.router.CallbackTarget()
		if !ok {
			d.logger.Warn("no handler", "update_id", u.UpdateID, "kind", kind)
			return nil
		}
		d.run(b, nil, b.controller.Handle, c)
		return nil
	}

	matches := d.router.Match(u, c.Text)
	if len(matches) == 0 {
		d.logger.Warn("no handler", "update_id", u.UpdateID, "kind", kind, "chat_id", c.ChatID)
		return nil
	}

	var wg sync.WaitGroup
	for _, m := range matches {
		h := m.Target.controller.Handle
		if m.Command != nil {
			if resolved, ok := m.Target.handlers[m.Command]; ok {
				h = resolved
			}
		}
		wg.Add(1)
		go func(m router.Match[*binding], h Handler) {
			defer wg.Done()
			d.run(m.Target, m.Command, h, c.clone(m.Params))
		}(m, h)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) processInline(ctx context.Context, u *telego.Update, kind string) error {
	c := d.newContext(ctx, u)
	if iq := u.InlineQuery; iq != nil {
		c.InlineQuery = iq
		c.From = &iq.From
		c.Text = iq.Query
	} else {
		cr := u.ChosenInlineResult
		c.ChosenResult = cr
		c.From = &cr.From
		c.Text = cr.Query
	}

	if err := d.loadSessions(ctx, c, false); err != nil {
		d.logger.Error("session load failed", "update_id", u.UpdateID, "kind", kind, "error", err)
		return err
	}

	if kind == KindInlineQuery {
		if cont, ok := d.conts.takeInline(c.Text, c.UserID()); ok {
			d.invoke("continuation", cont, c)
			return nil
		}
	}

	b, ok := d.router.InlineTarget()
	if !ok {
		d.logger.Warn("no handler", "update_id", u.UpdateID, "kind", kind)
		return nil
	}
	h := b.controller.Handle
	if kind == KindChosenInlineResult {
		if cr, ok := b.controller.(ChosenResultHandler); ok {
			h = cr.ChosenResult
		}
	}
	d.run(b, nil, h, c)
	return nil
}

func (d *Dispatcher) loadSessions(ctx context.Context, c *Context, hasChat bool) error {
	if hasChat {
		s, err := session.Load(ctx, d.store, session.ChatNamespace, strconv.FormatInt(c.ChatID, 10))
		if err != nil {
			return err
		}
		c.ChatSession = s
	}
	if c.From != nil {
		s, err := session.Load(ctx, d.store, session.UserNamespace, strconv.FormatInt(c.From.ID, 10))
		if err != nil {
			return err
		}
		c.UserSession = s
	}
	return nil
}

// run applies the controller's Before hook, then the handler.
func (d *Dispatcher) run(b *binding, cmd *router.Command, h Handler, c *Context) {
	if hook, ok := b.controller.(BeforeHook); ok {
		var (
			next *Context
			err  error
		)
		completed := d.invoke(b.name, func(c *Context) error {
			next, err = hook.Before(cmd, c)
			return nil
		}, c)
		if !completed {
			return
		}
		if err != nil {
			d.logger.Info("handler skipped by before hook", "controller", b.name, "update_id", c.Update.UpdateID, "error", err)
			return
		}
		if next != nil {
			c = next
		}
	}
	d.invoke(b.name, h, c)
}

// invoke runs h, logging its error or panic. It reports false on panic.
func (d *Dispatcher) invoke(name string, h Handler, c *Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"controller", name,
				"update_id", c.Update.UpdateID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()

	if err := h(c); err != nil {
		d.logger.Error("handler failed", "controller", name, "update_id", c.Update.UpdateID, "error", err)
	}
	return true
}

// PendingContinuations returns how many continuations are waiting.
func (d *Dispatcher) PendingContinuations() int {
	return d.conts.size()
}
