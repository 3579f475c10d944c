package core

import "sync"

type inlineKey struct {
	query  string
	userID int64
}

// pending is one callback continuation shared by every data value it was
// registered for.
type pending struct {
	handler Handler
	data    []string
}

// continuations holds the one-shot handlers waiting for a follow-up update.
// An entry is removed before its handler runs.
type continuations struct {
	mu       sync.Mutex
	chat     map[int64]Handler
	callback map[string]*pending
	inline   map[inlineKey]Handler
}

func newContinuations() *continuations {
	return &continuations{
		chat:     make(map[int64]Handler),
		callback: make(map[string]*pending),
		inline:   make(map[inlineKey]Handler),
	}
}

func (r *continuations) waitChat(chatID int64, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[chatID] = h
}

func (r *continuations) takeChat(chatID int64) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.chat[chatID]
	if ok {
		delete(r.chat, chatID)
	}
	return h, ok
}

func (r *continuations) waitCallback(data []string, h Handler) {
	p := &pending{handler: h, data: append([]string(nil), data...)}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range p.data {
		r.callback[d] = p
	}
}

// takeCallback removes the continuation for data together with its
// siblings registered in the same call.
func (r *continuations) takeCallback(data string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.callback[data]
	if !ok {
		return nil, false
	}
	for _, d := range p.data {
		if r.callback[d] == p {
			delete(r.callback, d)
		}
	}
	return p.handler, true
}

func (r *continuations) waitInline(query string, userID int64, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inline[inlineKey{query, userID}] = h
}

func (r *continuations) takeInline(query string, userID int64) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := inlineKey{query, userID}
	h, ok := r.inline[k]
	if ok {
		delete(r.inline, k)
	}
	return h, ok
}

func (r *continuations) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chat) + len(r.callback) + len(r.inline)
}
