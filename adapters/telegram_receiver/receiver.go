// Package telegram_receiver feeds updates from Telegram long polling into a
// handler.
package telegram_receiver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core/policy"
)

const (
	DefaultPollTimeout = 30
	errorBackoff       = 5 * time.Second
)

// PollFunc starts delivering updates on the returned channel until ctx is
// done. The channel is closed when delivery stops.
type PollFunc func(ctx context.Context) (<-chan telego.Update, error)

// UpdateHandler processes one update.
type UpdateHandler func(ctx context.Context, u telego.Update)

// FromBot long-polls the Bot API through telego. timeout is the getUpdates
// long-poll timeout in seconds.
func FromBot(bot *telego.Bot, timeout int) PollFunc {
	return func(ctx context.Context) (<-chan telego.Update, error) {
		return bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{Timeout: timeout})
	}
}

// Receiver runs every admitted update on its own goroutine so a slow
// handler never holds up the next update.
type Receiver struct {
	poll    PollFunc
	handler UpdateHandler
	policy  *policy.Policy
	logger  *slog.Logger
	backoff time.Duration
}

// New creates a receiver. pol may be nil to admit every update.
func New(poll PollFunc, handler UpdateHandler, pol *policy.Policy, logger *slog.Logger) *Receiver {
	return &Receiver{
		poll:    poll,
		handler: handler,
		policy:  pol,
		logger:  logger,
		backoff: errorBackoff,
	}
}

// WithBackoff overrides the delay before polling restarts after a failure
// (for testing).
func (r *Receiver) WithBackoff(d time.Duration) *Receiver {
	r.backoff = d
	return r
}

// Start polls until ctx is cancelled, then waits for running handlers.
func (r *Receiver) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	r.logger.Info("telegram receiver started")
	for {
		if ctx.Err() != nil {
			r.logger.Info("telegram receiver stopped")
			return nil
		}

		updates, err := r.poll(ctx)
		if err != nil {
			r.logger.Error("poll error", "error", err)
			if !r.sleep(ctx) {
				return nil
			}
			continue
		}

		for u := range updates {
			if r.policy != nil {
				if err := r.policy.Authorize(&u); err != nil {
					r.logger.Debug("update rejected by policy", "update_id", u.UpdateID, "error", err)
					continue
				}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.handler(ctx, u)
			}()
		}

		// The channel closed while ctx is live: polling died, restart it.
		if ctx.Err() == nil {
			r.logger.Warn("update channel closed, restarting polling")
			if !r.sleep(ctx) {
				return nil
			}
		}
	}
}

func (r *Receiver) sleep(ctx context.Context) bool {
	select {
	case <-time.After(r.backoff):
		return true
	case <-ctx.Done():
		return false
	}
}

