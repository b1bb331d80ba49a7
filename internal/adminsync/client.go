package adminsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNetwork  = errors.New("network failure")
)

// HTTPError is a non-2xx admin API response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("admin api http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// NetworkError is a timeout or connection failure. It is retried only on the
// next natural scheduler tick, never immediately.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// RemoteClient is the admin API surface the sync core consumes. The full
// listing may take tens of seconds; callers bound every call with a context
// deadline.
type RemoteClient interface {
	List(ctx context.Context) ([]stubs.Mapping, error)
	GetByID(ctx context.Context, id string) (*stubs.Mapping, error)
	Create(ctx context.Context, m stubs.Mapping) (*stubs.Mapping, error)
	Update(ctx context.Context, id string, m stubs.Mapping) (*stubs.Mapping, error)
	Delete(ctx context.Context, id string) error
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     stubs.Logger
}

type HTTPClientOptions struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Logger  stubs.Logger
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.Client
	if httpClient == nil {
		// No client-level timeout: every call carries a context deadline and
		// the full listing legitimately runs 40-50s.
		httpClient = &http.Client{}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

type listResponse struct {
	Items []json.RawMessage `json:"items"`
}

// List fetches the full authoritative collection. Items failing shape
// validation are dropped with a warning; the sentinel record is not filtered
// here, callers decide how to treat it.
func (c *HTTPClient) List(ctx context.Context) ([]stubs.Mapping, error) {
	var out listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/collection", nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		return nil, &HTTPError{StatusCode: http.StatusOK, Message: "listing payload has no items array"}
	}
	return stubs.DecodeMappings(out.Items, c.logger), nil
}

func (c *HTTPClient) GetByID(ctx context.Context, id string) (*stubs.Mapping, error) {
	var out stubs.Mapping
	if err := c.doJSON(ctx, http.MethodGet, "/collection/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Create(ctx context.Context, m stubs.Mapping) (*stubs.Mapping, error) {
	var out stubs.Mapping
	if err := c.doJSON(ctx, http.MethodPost, "/collection", m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Update(ctx context.Context, id string, m stubs.Mapping) (*stubs.Mapping, error) {
	var out stubs.Mapping
	if err := c.doJSON(ctx, http.MethodPut, "/collection/"+url.PathEscape(id), m, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out = m
		out.ID = id
	}
	return &out, nil
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/collection/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Correlation-Id", correlationID())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + requestPath, Err: err}
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &NetworkError{Op: method + " " + requestPath, Err: readErr}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}

	var errPayload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	message := errPayload.Message
	if message == "" {
		message = errPayload.Error
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: message}
}

func correlationID() string {
	return "stubsync_" + uuid.NewString()
}

// withDeadline bounds a call with a hard timeout when the parent carries none.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
