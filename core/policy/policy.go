// Package policy filters inbound updates before they are dispatched.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/mymmrac/telego"
)

const (
	maxSeenIDs = 10000
	pruneCount = 1000
)

// Policy drops updates from chats outside the allowlist, messages older
// than the freshness window and updates whose id was already seen.
type Policy struct {
	mu        sync.Mutex
	allowed   map[int64]bool
	maxAge    time.Duration
	now       func() time.Time
	seen      map[int]bool
	seenOrder []int
}

// New creates a Policy. An empty allowlist admits every chat; a zero
// maxAge disables the freshness check.
func New(chatIDs []int64, maxAge time.Duration) *Policy {
	allowed := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = true
	}
	return &Policy{
		allowed: allowed,
		maxAge:  maxAge,
		now:     time.Now,
		seen:    make(map[int]bool),
	}
}

// Authorize reports why u should be dropped, or nil.
func (p *Policy) Authorize(u *telego.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.allowed) > 0 {
		chatID, ok := chatOf(u)
		if !ok || !p.allowed[chatID] {
			return fmt.Errorf("unauthorized chat: %d", chatID)
		}
	}

	if p.maxAge > 0 {
		if date := dateOf(u); date != 0 {
			if age := p.now().Sub(time.Unix(date, 0)); age > p.maxAge {
				return fmt.Errorf("stale update: %v old", age.Truncate(time.Second))
			}
		}
	}

	if p.seen[u.UpdateID] {
		return fmt.Errorf("duplicate update: %d", u.UpdateID)
	}

	// Prune oldest entries if at capacity.
	if len(p.seen) >= maxSeenIDs {
		for i := 0; i < pruneCount && i < len(p.seenOrder); i++ {
			delete(p.seen, p.seenOrder[i])
		}
		p.seenOrder = p.seenOrder[pruneCount:]
	}

	p.seen[u.UpdateID] = true
	p.seenOrder = append(p.seenOrder, u.UpdateID)
	return nil
}

// chatOf returns the chat an update belongs to. Inline updates have no
// chat; their sender's private chat id is used instead.
func chatOf(u *telego.Update) (int64, bool) {
	for _, m := range []*telego.Message{u.Message, u.EditedMessage, u.ChannelPost, u.EditedChannelPost} {
		if m != nil {
			return m.Chat.ID, true
		}
	}
	switch {
	case u.CallbackQuery != nil:
		if u.CallbackQuery.Message != nil {
			return u.CallbackQuery.Message.GetChat().ID, true
		}
		return u.CallbackQuery.From.ID, true
	case u.InlineQuery != nil:
		return u.InlineQuery.From.ID, true
	case u.ChosenInlineResult != nil:
		return u.ChosenInlineResult.From.ID, true
	}
	return 0, false
}

func dateOf(u *telego.Update) int64 {
	for _, m := range []*telego.Message{u.Message, u.ChannelPost} {
		if m != nil {
			return m.Date
		}
	}
	return 0
}
