package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core/session"
)

// ErrNoWorkers is returned by Forward when no worker is connected.
var ErrNoWorkers = errors.New("no workers connected")

// Coordinator owns the real session store and serves it to workers. It
// also spreads inbound updates over the connected workers.
type Coordinator struct {
	store  session.Store
	codec  Codec
	logger *slog.Logger

	mu      sync.Mutex
	workers []*workerConn
	procs   map[string]*exec.Cmd

	listener   net.Listener
	socketPath string
	wg         sync.WaitGroup
}

type workerConn struct {
	name string
	conn *Conn
}

// NewCoordinator creates a Coordinator serving store.
func NewCoordinator(store session.Store, codec Codec, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		codec:  codec,
		logger: logger,
		procs:  make(map[string]*exec.Cmd),
	}
}

// Workers returns the number of connected workers.
func (c *Coordinator) Workers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

// Serve answers store requests from one worker until the connection ends
// or ctx is done. While serving, the worker receives forwarded updates.
func (c *Coordinator) Serve(ctx context.Context, name string, conn *Conn) error {
	wc := &workerConn{name: name, conn: conn}
	c.addWorker(wc)
	defer c.removeWorker(wc)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Info("worker connected", "worker", name)
	for {
		env, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				c.logger.Info("worker disconnected", "worker", name)
				return nil
			}
			return fmt.Errorf("worker %q: %w", name, err)
		}

		switch env.Type {
		case TypeGet, TypeSet, TypeRemove:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(ctx, wc, env)
			}()
		default:
			c.logger.Warn("unexpected envelope from worker", "worker", name, "type", env.Type)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, wc *workerConn, env *Envelope) {
	p := env.Payload
	resp := Payload{ID: p.ID}

	var err error
	switch env.Type {
	case TypeGet:
		resp.Value, resp.Found, err = c.store.Get(ctx, p.Namespace, p.Key)
	case TypeSet:
		err = c.store.Set(ctx, p.Namespace, p.Key, p.Value)
	case TypeRemove:
		err = c.store.Remove(ctx, p.Namespace, p.Key)
	}
	if err != nil {
		c.logger.Error("store operation failed", "worker", wc.name, "op", env.Type, "namespace", p.Namespace, "key", p.Key, "error", err)
		resp = Payload{ID: p.ID, Error: err.Error()}
	}

	if err := wc.conn.Send(&Envelope{Type: TypeResponse, Payload: resp}); err != nil {
		c.logger.Error("send response failed", "worker", wc.name, "id", p.ID, "error", err)
	}
}

// Forward hands u to the worker its affinity key maps to, so every update
// of one chat (or one sender, when there is no chat) reaches the same
// worker and finds the continuations registered there. The mapping holds
// while the set of connected workers is unchanged.
func (c *Coordinator) Forward(u telego.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update %d: %w", u.UpdateID, err)
	}

	c.mu.Lock()
	if len(c.workers) == 0 {
		c.mu.Unlock()
		return ErrNoWorkers
	}
	wc := c.workers[workerIndex(AffinityKey(&u), len(c.workers))]
	c.mu.Unlock()

	if err := wc.conn.Send(&Envelope{Type: TypeUpdate, Payload: Payload{Update: data}}); err != nil {
		return fmt.Errorf("forward update %d to %q: %w", u.UpdateID, wc.name, err)
	}
	return nil
}

// AffinityKey returns the chat id for messages and for callback queries
// attached to a message, else the sender's user id. It is 0 when the update
// has neither.
func AffinityKey(u *telego.Update) int64 {
	for _, m := range []*telego.Message{u.Message, u.EditedMessage, u.ChannelPost, u.EditedChannelPost} {
		if m != nil {
			return m.Chat.ID
		}
	}
	switch {
	case u.CallbackQuery != nil:
		if u.CallbackQuery.Message != nil {
			if chat := u.CallbackQuery.Message.GetChat(); chat.ID != 0 {
				return chat.ID
			}
		}
		return u.CallbackQuery.From.ID
	case u.InlineQuery != nil:
		return u.InlineQuery.From.ID
	case u.ChosenInlineResult != nil:
		return u.ChosenInlineResult.From.ID
	}
	return 0
}

func workerIndex(key int64, n int) int {
	return int(uint64(key) % uint64(n))
}

func (c *Coordinator) addWorker(wc *workerConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = append(c.workers, wc)
}

func (c *Coordinator) removeWorker(wc *workerConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.workers {
		if w == wc {
			c.workers = append(c.workers[:i], c.workers[i+1:]...)
			return
		}
	}
}

// StartWorker launches a worker process talking over its stdin and stdout
// and serves it in the background.
func (c *Coordinator) StartWorker(ctx context.Context, name, path string, args ...string) error {
	cmd := exec.Command(path, args...)
	cmd.Stderr = &logWriter{logger: c.logger, worker: name}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}

	c.mu.Lock()
	c.procs[name] = cmd
	c.mu.Unlock()
	c.logger.Info("worker started", "worker", name, "exec", path, "pid", cmd.Process.Pid)

	conn := NewPipeConn(stdout, stdin, c.codec)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Serve(ctx, name, conn); err != nil {
			c.logger.Error("worker connection failed", "worker", name, "error", err)
		}
	}()
	return nil
}

// Listen accepts workers on a Unix socket. It removes a stale socket file,
// creates the directory with 0700 permissions and sets the socket to 0600.
func (c *Coordinator) Listen(ctx context.Context, socketPath string) error {
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if _, err := os.Stat(socketPath); err == nil {
		conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("another coordinator is already listening on %s", socketPath)
		}
		c.logger.Info("removing stale socket", "path", socketPath)
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	c.mu.Lock()
	c.listener = ln
	c.socketPath = socketPath
	c.mu.Unlock()
	c.logger.Info("listening for workers", "path", socketPath)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.acceptLoop(ctx, ln)
	}()
	return nil
}

func (c *Coordinator) acceptLoop(ctx context.Context, ln net.Listener) {
	for i := 0; ; i++ {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				c.logger.Error("accept error", "error", err)
			}
			return
		}

		name := fmt.Sprintf("socket-%d", i)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.Serve(ctx, name, NewConn(nc, c.codec)); err != nil {
				c.logger.Error("worker connection failed", "worker", name, "error", err)
			}
		}()
	}
}

// Shutdown stops accepting workers, closes every worker connection, kills
// worker processes and waits for the serving goroutines.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	ln := c.listener
	socketPath := c.socketPath
	workers := append([]*workerConn(nil), c.workers...)
	procs := c.procs
	c.procs = make(map[string]*exec.Cmd)
	c.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, wc := range workers {
		wc.conn.Close()
	}
	for name, cmd := range procs {
		if err := cmd.Process.Kill(); err != nil {
			c.logger.Warn("failed to kill worker", "worker", name, "error", err)
		}
		cmd.Wait()
		c.logger.Info("worker stopped", "worker", name)
	}
	c.wg.Wait()
	if socketPath != "" {
		os.Remove(socketPath)
	}
}

// logWriter adapts worker stderr to slog.
type logWriter struct {
	logger *slog.Logger
	worker string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Info("worker stderr", "worker", w.worker, "output", string(p))
	return len(p), nil
}
