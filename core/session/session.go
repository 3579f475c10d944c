package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Session is one chat- or user-scoped field map. Every mutation is written
// through to the Store before it returns; there is no separate save step.
type Session struct {
	store     Store
	namespace string
	key       string

	mu     sync.Mutex
	fields map[string]json.RawMessage
}

// Load fetches the session stored under (namespace, key). A missing entry
// yields an empty session.
func Load(ctx context.Context, store Store, namespace, key string) (*Session, error) {
	s := &Session{
		store:     store,
		namespace: namespace,
		key:       key,
		fields:    make(map[string]json.RawMessage),
	}

	data, ok, err := store.Get(ctx, namespace, key)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", namespace, key, err)
	}
	if ok && len(data) > 0 {
		if err := json.Unmarshal(data, &s.fields); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", namespace, key, err)
		}
	}
	return s, nil
}

// Namespace returns the key space this session belongs to.
func (s *Session) Namespace() string { return s.namespace }

// Key returns the chat or user id the session is stored under.
func (s *Session) Key() string { return s.key }

// Get decodes field into dst. It reports false if the field is unset.
func (s *Session) Get(field string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.fields[field]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode session field %q: %w", field, err)
	}
	return true, nil
}

// GetString returns a string field, or "" if unset or not a string.
func (s *Session) GetString(field string) string {
	var v string
	if ok, err := s.Get(field, &v); !ok || err != nil {
		return ""
	}
	return v
}

// Set stores value under field and writes the session through to the store.
func (s *Session) Set(ctx context.Context, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session field %q: %w", field, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyLocked()
	next[field] = raw
	return s.commitLocked(ctx, next)
}

// Delete removes field and writes the session through to the store.
func (s *Session) Delete(ctx context.Context, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fields[field]; !ok {
		return nil
	}
	next := s.copyLocked()
	delete(next, field)
	return s.commitLocked(ctx, next)
}

// Clear drops every field and removes the entry from the store.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Remove(ctx, s.namespace, s.key); err != nil {
		return fmt.Errorf("remove %s %s: %w", s.namespace, s.key, err)
	}
	s.fields = make(map[string]json.RawMessage)
	return nil
}

// Keys returns the set field names in sorted order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Session) copyLocked() map[string]json.RawMessage {
	next := make(map[string]json.RawMessage, len(s.fields)+1)
	for k, v := range s.fields {
		next[k] = v
	}
	return next
}

// commitLocked persists next and only then makes it the visible state.
func (s *Session) commitLocked(ctx context.Context, next map[string]json.RawMessage) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.store.Set(ctx, s.namespace, s.key, data); err != nil {
		return fmt.Errorf("store %s %s: %w", s.namespace, s.key, err)
	}
	s.fields = next
	return nil
}
