// Package telegram_transport performs Bot API calls over HTTP.
package telegram_transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/jdelaire/teleflow/core/scheduler"
)

const (
	DefaultBaseURL  = "https://api.telegram.org"
	maxResponseBody = 16 << 20
)

var _ scheduler.Transport = (*Transport)(nil)

// Transport posts Bot API methods as JSON, or as multipart/form-data when
// files are attached.
type Transport struct {
	botToken string
	client   *http.Client
	baseURL  string
}

// New creates a transport for the given bot token.
func New(botToken string) *Transport {
	return &Transport{
		botToken: botToken,
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  DefaultBaseURL,
	}
}

// WithBaseURL sets a custom base URL (for testing or a local Bot API server).
func (t *Transport) WithBaseURL(baseURL string) *Transport {
	t.baseURL = baseURL
	return t
}

// WithHTTPClient sets the HTTP client.
func (t *Transport) WithHTTPClient(client *http.Client) *Transport {
	t.client = client
	return t
}

// Call posts one method. The error is non-nil only when no response was
// received; API-level failures are left to the caller to classify.
func (t *Transport) Call(ctx context.Context, method string, params any, files []scheduler.File) (*scheduler.RawResponse, error) {
	body, contentType, err := encode(params, files)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram request %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	return &scheduler.RawResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

func encode(params any, files []scheduler.File) (io.Reader, string, error) {
	if params == nil {
		params = struct{}{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, "", err
	}
	if len(files) == 0 {
		return bytes.NewReader(data), "application/json", nil
	}

	// Multipart fields are the top-level parameters: strings as-is, every
	// other value as its JSON text.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, "", fmt.Errorf("params must encode to a JSON object: %w", err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		raw := fields[name]
		value := string(raw)
		var s string
		if json.Unmarshal(raw, &s) == nil {
			value = s
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
