package redis_store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jdelaire/teleflow/core/session"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(client, opts...), mr
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, WithPrefix("bot:"))

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, ok, err := s.Get(ctx, session.ChatNamespace, "1"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, session.ChatNamespace, "1", []byte(`{"step":"name"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := mr.Get("bot:chatSession:1")
	if err != nil || raw != `{"step":"name"}` {
		t.Fatalf("raw key = %q, err = %v", raw, err)
	}

	got, ok, err := s.Get(ctx, session.ChatNamespace, "1")
	if err != nil || !ok || string(got) != `{"step":"name"}` {
		t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
	}

	if err := s.Remove(ctx, session.ChatNamespace, "1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if mr.Exists("bot:chatSession:1") {
		t.Error("key still exists after Remove")
	}
	if err := s.Remove(ctx, session.ChatNamespace, "1"); err != nil {
		t.Errorf("Remove missing: %v", err)
	}
}

func TestStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, WithTTL(time.Hour))

	if err := s.Set(ctx, session.UserNamespace, "7", []byte("{}")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(DefaultPrefix + "userSession:7"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := s.Get(ctx, session.UserNamespace, "7"); ok {
		t.Error("session survived its TTL")
	}
}

func TestStoreBacksSessions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	sess, err := session.Load(ctx, s, session.UserNamespace, "42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := sess.Set(ctx, "lang", "es"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	again, err := session.Load(ctx, s, session.UserNamespace, "42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := again.GetString("lang"); got != "es" {
		t.Errorf("lang = %q, want es", got)
	}
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	if _, _, err := s.Get(context.Background(), "ns", "k"); err == nil {
		t.Error("Get succeeded against a stopped server")
	}
}
