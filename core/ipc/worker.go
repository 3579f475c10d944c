package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
)

// UpdateFunc handles an update forwarded by the coordinator.
type UpdateFunc func(ctx context.Context, u telego.Update)

// WorkerStore is the worker side of the protocol. It implements
// session.Store by forwarding every operation to the coordinator.
//
// There is no timeout: a call whose response never arrives waits until its
// context is done or the connection closes.
type WorkerStore struct {
	conn   *Conn
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Payload
	closed  bool
}

// NewWorkerStore creates a WorkerStore on conn. Run must be running for
// calls to complete.
func NewWorkerStore(conn *Conn, logger *slog.Logger) *WorkerStore {
	return &WorkerStore{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Payload),
	}
}

// Get fetches a value from the coordinator's store.
func (w *WorkerStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	resp, err := w.call(ctx, TypeGet, Payload{Namespace: namespace, Key: key})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// Set writes a value to the coordinator's store.
func (w *WorkerStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := w.call(ctx, TypeSet, Payload{Namespace: namespace, Key: key, Value: value})
	return err
}

// Remove deletes a value from the coordinator's store.
func (w *WorkerStore) Remove(ctx context.Context, namespace, key string) error {
	_, err := w.call(ctx, TypeRemove, Payload{Namespace: namespace, Key: key})
	return err
}

// Pending returns the number of calls awaiting a response.
func (w *WorkerStore) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *WorkerStore) call(ctx context.Context, typ string, p Payload) (Payload, error) {
	p.ID = uuid.NewString()
	ch := make(chan Payload, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Payload{}, ErrClosed
	}
	w.pending[p.ID] = ch
	w.mu.Unlock()

	if err := w.conn.Send(&Envelope{Type: typ, Payload: p}); err != nil {
		w.forget(p.ID)
		return Payload{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Payload{}, ErrClosed
		}
		if resp.Error != "" {
			return Payload{}, &RemoteError{Op: typ, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		w.forget(p.ID)
		return Payload{}, ctx.Err()
	}
}

func (w *WorkerStore) forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, id)
}

func (w *WorkerStore) resolve(p Payload) {
	w.mu.Lock()
	ch, ok := w.pending[p.ID]
	if ok {
		delete(w.pending, p.ID)
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Warn("response for unknown call", "id", p.ID)
		return
	}
	ch <- p
}

// failAll releases every waiting call with ErrClosed.
func (w *WorkerStore) failAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
}

// Run reads envelopes until ctx is done or the connection fails. Responses
// complete their calls; updates go to onUpdate, each on its own goroutine.
// Run waits for those goroutines before returning.
func (w *WorkerStore) Run(ctx context.Context, onUpdate UpdateFunc) error {
	stop := context.AfterFunc(ctx, func() { w.conn.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer w.failAll()

	for {
		env, err := w.conn.Receive()
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		switch env.Type {
		case TypeResponse:
			w.resolve(env.Payload)
		case TypeUpdate:
			var u telego.Update
			if err := json.Unmarshal(env.Payload.Update, &u); err != nil {
				w.logger.Error("decode forwarded update", "error", err)
				continue
			}
			if onUpdate == nil {
				w.logger.Warn("update dropped, no handler", "update_id", u.UpdateID)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				onUpdate(ctx, u)
			}()
		default:
			w.logger.Warn("unexpected envelope", "type", env.Type)
		}
	}
}
