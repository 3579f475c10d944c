package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core"
	"github.com/jdelaire/teleflow/core/api"
	"github.com/jdelaire/teleflow/core/i18n"
	"github.com/jdelaire/teleflow/core/ipc"
	"github.com/jdelaire/teleflow/core/session"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startWorker connects a sample-bot worker to coord over an in-memory pipe.
func startWorker(t *testing.T, ctx context.Context, coord *ipc.Coordinator, name string, doer *spyDoer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, b := net.Pipe()
	go coord.Serve(ctx, name, ipc.NewConn(a, ipc.JSONCodec{}))

	ws := ipc.NewWorkerStore(ipc.NewConn(b, ipc.JSONCodec{}), logger)
	loc := i18n.New("en")
	loc.Add("en", defaultMessages)
	d := core.NewDispatcher(ws, api.New(doer), loc, logger)
	if err := registerSampleBot(d, nil); err != nil {
		t.Fatalf("registerSampleBot: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.Run(ctx, func(ctx context.Context, u telego.Update) { d.Dispatch(ctx, u) })
	}()
	t.Cleanup(func() {
		b.Close()
		<-done
	})
}

func TestFormAcrossWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doer := &spyDoer{}
	coord := ipc.NewCoordinator(session.NewMemoryStore(), ipc.JSONCodec{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	startWorker(t, ctx, coord, "w1", doer)
	waitFor(t, "first worker", func() bool { return coord.Workers() == 1 })
	startWorker(t, ctx, coord, "w2", doer)
	waitFor(t, "second worker", func() bool { return coord.Workers() == 2 })

	steps := []struct {
		text string
		want string
	}{
		{"/name", defaultMessages["ask_name"]},
		{"Ada", defaultMessages["ask_age"]},
		{"36", "Nice to meet you, Ada (36)."},
	}
	for _, step := range steps {
		if err := coord.Forward(message(3, 9, step.text)); err != nil {
			t.Fatalf("Forward %q: %v", step.text, err)
		}
		waitFor(t, step.want, func() bool { return slices.Contains(doer.texts(), step.want) })
	}

	if got := doer.texts(); slices.Contains(got, defaultMessages["unknown"]) || len(got) != len(steps) {
		t.Errorf("texts = %q", got)
	}
}
