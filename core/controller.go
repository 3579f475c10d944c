package core

import (
	"github.com/jdelaire/teleflow/core/api"
	"github.com/jdelaire/teleflow/core/i18n"
	"github.com/jdelaire/teleflow/core/router"
)

// Handler processes one update.
type Handler func(c *Context) error

// Controller is the unit of registration. Handle runs when a route matches
// without naming a handler, and for catch-all, fallback, callback and inline
// registrations.
type Controller interface {
	Handle(c *Context) error
}

// Routable controllers expose named handlers that commands can select.
type Routable interface {
	Routes() map[string]Handler
}

// BeforeHook runs ahead of every handler of the controller. The context it
// returns is handed to the handler; a nil context keeps the original. An
// error skips the handler.
type BeforeHook interface {
	Before(cmd *router.Command, c *Context) (*Context, error)
}

// ChosenResultHandler receives chosen inline results. Inline controllers
// without it get them through Handle.
type ChosenResultHandler interface {
	ChosenResult(c *Context) error
}

// APIReceiver controllers get the API client on registration.
type APIReceiver interface {
	SetAPI(client *api.Client)
}

// LocalizationReceiver controllers get the localization on registration.
type LocalizationReceiver interface {
	SetLocalization(loc *i18n.Localization)
}

// HandlerFunc adapts a function to a Controller.
type HandlerFunc Handler

// Handle calls f(c).
func (f HandlerFunc) Handle(c *Context) error { return f(c) }
