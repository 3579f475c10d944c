package router

import (
	"errors"
	"sync"

	"github.com/mymmrac/telego"
)

// ErrUnknownHandler is returned when a command names a handler its
// controller does not provide.
var ErrUnknownHandler = errors.New("unknown handler")

// Route ties an ordered command list to one target.
type Route[T any] struct {
	Target   T
	Commands []*Command
}

// Match is one (target, handler) pair selected for an update. Command is
// nil for catch-all and fallback matches.
type Match[T any] struct {
	Target  T
	Command *Command
	Handler string
	Params  map[string]string
}

// Router maps updates to registered targets.
type Router[T any] struct {
	mu        sync.RWMutex
	routes    []Route[T]
	any       []T
	otherwise *T
	callback  *T
	inline    *T
}

// New creates an empty router.
func New[T any]() *Router[T] {
	return &Router[T]{}
}

// When registers target for the given commands. Routes are matched in
// registration order.
func (r *Router[T]) When(target T, commands ...*Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, Route[T]{Target: target, Commands: commands})
}

// Any registers target for every message update.
func (r *Router[T]) Any(target T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.any = append(r.any, target)
}

// Otherwise registers the fallback used when no route matched.
func (r *Router[T]) Otherwise(target T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherwise = &target
}

// CallbackQuery sets the single target for callback queries.
func (r *Router[T]) CallbackQuery(target T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = &target
}

// InlineQuery sets the single target for inline queries and chosen inline
// results.
func (r *Router[T]) InlineQuery(target T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inline = &target
}

// CallbackTarget returns the callback query target, if any.
func (r *Router[T]) CallbackTarget() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.callback == nil {
		var zero T
		return zero, false
	}
	return *r.callback, true
}

// InlineTarget returns the inline query target, if any.
func (r *Router[T]) InlineTarget() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.inline == nil {
		var zero T
		return zero, false
	}
	return *r.inline, true
}

// Routes returns a copy of the registered routes.
func (r *Router[T]) Routes() []Route[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route[T], len(r.routes))
	copy(out, r.routes)
	return out
}

// Match returns every target selected for the update: all catch-all
// targets, then the first accepting command of each route. When no route
// matched, the fallback is used instead. Catch-all targets do not count as
// a route match.
func (r *Router[T]) Match(u *telego.Update, text string) []Match[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Match[T]
	for _, t := range r.any {
		matches = append(matches, Match[T]{Target: t})
	}

	routed := false
	for _, route := range r.routes {
		for _, cmd := range route.Commands {
			params, ok := cmd.Match(u, text)
			if !ok {
				continue
			}
			matches = append(matches, Match[T]{
				Target:  route.Target,
				Command: cmd,
				Handler: cmd.Handler,
				Params:  params,
			})
			routed = true
			break
		}
	}

	if !routed && r.otherwise != nil {
		matches = append(matches, Match[T]{Target: *r.otherwise})
	}
	return matches
}
