package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedCall struct {
	at     time.Time
	method string
	params any
	files  []File
}

// fakeTransport answers every call through respond and records it.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []recordedCall
	respond func(n int) (*RawResponse, error)
}

func (f *fakeTransport) Call(_ context.Context, method string, params any, files []File) (*RawResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{at: time.Now(), method: method, params: params, files: files})
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()
	return respond(n)
}

func (f *fakeTransport) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) setRespond(fn func(n int) (*RawResponse, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func okResponse(result string) *RawResponse {
	return &RawResponse{StatusCode: 200, Body: []byte(`{"ok":true,"result":` + result + `}`)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDoReturnsResult(t *testing.T) {
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) { return okResponse(`{"message_id":7}`), nil }}
	s := New(tr, WithLogger(testLogger()))

	res, err := s.Do(context.Background(), Request{Method: "sendMessage", Params: map[string]any{"chat_id": 1}})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	var msg struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(res, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.MessageID != 7 {
		t.Errorf("message_id = %d, want 7", msg.MessageID)
	}
}

func TestDispatchStartsArePaced(t *testing.T) {
	const perSecond = 20
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) { return okResponse(`true`), nil }}
	s := New(tr, WithRate(perSecond), WithLogger(testLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Do(context.Background(), Request{Method: "getMe"}); err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	calls := tr.snapshot()
	if len(calls) != 5 {
		t.Fatalf("calls = %d, want 5", len(calls))
	}
	minGap := time.Second / perSecond
	// Allow for timer granularity in the token bucket.
	tolerance := 2 * time.Millisecond
	for i := 1; i < len(calls); i++ {
		gap := calls[i].at.Sub(calls[i-1].at)
		if gap < minGap-tolerance {
			t.Errorf("gap between call %d and %d = %v, want >= %v", i-1, i, gap, minGap)
		}
	}
}

func TestFIFOOrder(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{}
	tr.respond = func(n int) (*RawResponse, error) {
		if n == 1 {
			<-release
		}
		return okResponse(`true`), nil
	}
	s := New(tr, WithRate(1000), WithLogger(testLogger()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Do(context.Background(), Request{Method: "first"})
	}()
	waitFor(t, func() bool { return len(tr.snapshot()) == 1 })

	for i, m := range []string{"second", "third", "fourth"} {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			s.Do(context.Background(), Request{Method: m})
		}(m)
		waitFor(t, func() bool { return s.Pending() == i+1 })
	}
	close(release)
	wg.Wait()

	var got []string
	for _, c := range tr.snapshot() {
		got = append(got, c.method)
	}
	want := []string{"first", "second", "third", "fourth"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestServerErrorRetriedUntilSuccess(t *testing.T) {
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) {
		return &RawResponse{StatusCode: 500, Body: []byte("Internal Server Error")}, nil
	}}
	delay := 20 * time.Millisecond
	s := New(tr, WithRetryDelay(delay), WithRate(1000), WithLogger(testLogger()))

	params := map[string]any{"chat_id": 42, "text": "hi"}
	files := []File{{Field: "document", Name: "a.txt", Data: []byte("abc")}}

	type result struct {
		res json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.Do(context.Background(), Request{Method: "sendDocument", Params: params, Files: files})
		done <- result{res, err}
	}()

	// Retries keep coming while the remote keeps failing.
	waitFor(t, func() bool { return len(tr.snapshot()) >= 5 })
	select {
	case r := <-done:
		t.Fatalf("call resolved while remote still failing: %+v", r)
	default:
	}

	tr.setRespond(func(int) (*RawResponse, error) { return okResponse(`"done"`), nil })

	r := <-done
	if r.err != nil {
		t.Fatalf("Do: %v", r.err)
	}
	if string(r.res) != `"done"` {
		t.Errorf("result = %s", r.res)
	}

	calls := tr.snapshot()
	for i, c := range calls {
		if c.method != "sendDocument" || !reflect.DeepEqual(c.params, params) || !reflect.DeepEqual(c.files, files) {
			t.Errorf("attempt %d differs: %+v", i, c)
		}
		if i > 0 && c.at.Sub(calls[i-1].at) < delay {
			t.Errorf("attempt %d came %v after the previous one, want >= %v", i, c.at.Sub(calls[i-1].at), delay)
		}
	}
}

func TestTransientFailuresRetried(t *testing.T) {
	tests := []struct {
		name  string
		first func() (*RawResponse, error)
	}{
		{"connection error", func() (*RawResponse, error) { return nil, errors.New("connection refused") }},
		{"non-json body", func() (*RawResponse, error) { return &RawResponse{StatusCode: 502, Body: []byte("<html>bad gateway</html>")}, nil }},
		{"error code 500", func() (*RawResponse, error) {
			return &RawResponse{StatusCode: 200, Body: []byte(`{"ok":false,"error_code":500,"description":"oops"}`)}, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{respond: func(n int) (*RawResponse, error) {
				if n == 1 {
					return tt.first()
				}
				return okResponse(`true`), nil
			}}
			s := New(tr, WithRetryDelay(5*time.Millisecond), WithRate(1000), WithLogger(testLogger()))

			if _, err := s.Do(context.Background(), Request{Method: "getMe"}); err != nil {
				t.Fatalf("Do: %v", err)
			}
			if n := len(tr.snapshot()); n != 2 {
				t.Errorf("calls = %d, want 2", n)
			}
		})
	}
}

func TestDeclaredErrorRejectsWithoutRetry(t *testing.T) {
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) {
		return &RawResponse{
			StatusCode: 400,
			Body:       []byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`),
		}, nil
	}}
	s := New(tr, WithRetryDelay(5*time.Millisecond), WithRate(1000), WithLogger(testLogger()))

	_, err := s.Do(context.Background(), Request{Method: "sendMessage"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != 400 || apiErr.Description != "Bad Request: chat not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(tr.snapshot()); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", n)
	}
}

func TestRetryAfterCarried(t *testing.T) {
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) {
		return &RawResponse{
			StatusCode: 429,
			Body:       []byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`),
		}, nil
	}}
	s := New(tr, WithLogger(testLogger()))

	_, err := s.Do(context.Background(), Request{Method: "sendMessage"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter != 3 {
		t.Fatalf("err = %v, want retry_after 3", err)
	}
}

func TestContextCancelAbandonsWaitOnly(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) {
		<-release
		return okResponse(`true`), nil
	}}
	s := New(tr, WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Do(ctx, Request{Method: "getMe"})
		errc <- err
	}()
	waitFor(t, func() bool { return len(tr.snapshot()) == 1 })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	close(release)
}

func TestClose(t *testing.T) {
	tr := &fakeTransport{respond: func(int) (*RawResponse, error) { return okResponse(`true`), nil }}
	s := New(tr, WithLogger(testLogger()))
	s.Close()

	if _, err := s.Do(context.Background(), Request{Method: "getMe"}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
