package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerSecond = 30
	DefaultRetryDelay        = 1000 * time.Millisecond
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("scheduler closed")

// File is one multipart attachment of a request.
type File struct {
	Field string
	Name  string
	Data  []byte
}

// Request is a single Bot API call. Params must be JSON-marshalable.
type Request struct {
	Method string
	Params any
	Files  []File
}

// RawResponse is what the transport got back from the remote API.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// Transport performs one remote call. A non-nil error means the call did
// not produce a response at all (connection failure, timeout).
type Transport interface {
	Call(ctx context.Context, method string, params any, files []File) (*RawResponse, error)
}

// APIError is an error declared by the remote API in its response body.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type outcome struct {
	result json.RawMessage
	err    error
}

type call struct {
	req     Request
	attempt int
	done    chan outcome
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRate sets the number of calls started per second.
func WithRate(perSecond int) Option {
	return func(s *Scheduler) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithRetryDelay sets the fixed delay before a transient failure is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithLogger sets the logger used for retries and declared errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler paces outbound calls through a FIFO queue with a single
// in-flight slot. Transient failures are retried forever.
type Scheduler struct {
	transport  Transport
	limiter    *rate.Limiter
	retryDelay time.Duration
	logger     *slog.Logger
	afterFunc  func(time.Duration, func())

	mu      sync.Mutex
	queue   []*call
	running bool
	closed  bool
}

// New creates a Scheduler on top of the given transport.
func New(transport Transport, opts ...Option) *Scheduler {
	s := &Scheduler{
		transport:  transport,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), 1),
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Do enqueues req and waits for its result. Cancelling ctx abandons the
// wait only; the call stays queued until it succeeds or is rejected.
func (s *Scheduler) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	c := &call{req: req, done: make(chan outcome, 1)}
	if err := s.enqueue(c); err != nil {
		return nil, err
	}

	select {
	case o := <-c.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of queued calls, excluding the in-flight one.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting new calls. Calls already queued still run.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Scheduler) enqueue(c *call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && c.attempt == 0 {
		return ErrClosed
	}
	s.queue = append(s.queue, c)
	if !s.running {
		s.running = true
		go s.drain()
	}
	return nil
}

// drain pops calls until the queue is empty. Only one drain runs at a time.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		c := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		// Background never cancels and burst is 1, so Wait cannot fail.
		_ = s.limiter.Wait(context.Background())
		s.execute(c)
	}
}

func (s *Scheduler) execute(c *call) {
	resp, err := s.transport.Call(context.Background(), c.req.Method, c.req.Params, c.req.Files)
	if err != nil {
		s.retry(c, err)
		return
	}

	result, err := decode(resp)
	var apiErr *APIError
	switch {
	case err == nil:
		c.done <- outcome{result: result}
	case errors.As(err, &apiErr):
		s.logger.Error("telegram api call rejected",
			"method", c.req.Method, "code", apiErr.Code, "description", apiErr.Description)
		c.done <- outcome{err: apiErr}
	default:
		s.retry(c, err)
	}
}

func (s *Scheduler) retry(c *call, cause error) {
	c.attempt++
	s.logger.Warn("telegram api call failed, retrying",
		"method", c.req.Method, "attempt", c.attempt, "delay", s.retryDelay, "error", cause)
	s.afterFunc(s.retryDelay, func() {
		if err := s.enqueue(c); err != nil {
			c.done <- outcome{err: err}
		}
	})
}

// decode classifies a raw response. It returns the result on success, an
// *APIError for declared errors, and any other error for transient ones.
func decode(resp *RawResponse) (json.RawMessage, error) {
	if resp.StatusCode == http.StatusInternalServerError {
		return nil, fmt.Errorf("remote status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}

	if body.ErrorCode == http.StatusInternalServerError {
		return nil, fmt.Errorf("remote error %d: %s", body.ErrorCode, body.Description)
	}

	if body.ErrorCode != 0 || !body.OK || resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Code: body.ErrorCode, Description: body.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if body.Parameters != nil {
			apiErr.RetryAfter = body.Parameters.RetryAfter
		}
		return nil, apiErr
	}

	return body.Result, nil
}
