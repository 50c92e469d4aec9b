package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/TheMichaelB/visitsync/internal/config"
	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// ErrRealtimeDisabled is returned by Realtime when no feed URL is known.
var ErrRealtimeDisabled = errors.New("realtime feed not configured")

// Transport speaks the PostgREST table protocol plus the realtime feed.
type Transport interface {
	// Table methods
	Select(ctx context.Context, op, table string, query url.Values, out interface{}) error
	Insert(ctx context.Context, op, table string, row interface{}) error
	Upsert(ctx context.Context, op, table string, row interface{}, onConflict string) error
	Update(ctx context.Context, op, table string, filter url.Values, patch interface{}) (int, error)

	// Reachability
	Ping(ctx context.Context) error

	// Realtime feed
	Realtime(ctx context.Context, tables []string) (<-chan models.Notification, error)

	// Lifecycle
	Close() error
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	httpClient  *HTTPClient
	realtimeURL string
	apiKey      string
	rtOpts      []RealtimeOption
	logger      *events.Logger
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger, rtOpts ...RealtimeOption) *DefaultTransport {
	return &DefaultTransport{
		httpClient:  NewHTTPClient(cfg, logger),
		realtimeURL: cfg.RealtimeURL,
		apiKey:      cfg.APIKey,
		rtOpts:      rtOpts,
		logger:      logger,
	}
}

// Select GETs rows of table into out, a pointer to a slice.
func (t *DefaultTransport) Select(ctx context.Context, op, table string, query url.Values, out interface{}) error {
	q := cloneQuery(query)
	if q.Get("select") == "" {
		q.Set("select", "*")
	}

	resp, err := t.httpClient.Do(ctx, Request{
		Op:     op,
		Method: http.MethodGet,
		Path:   RESTPrefix + table,
		Query:  q,
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Insert POSTs row, ignoring a primary key duplicate so a replay is a no-op.
func (t *DefaultTransport) Insert(ctx context.Context, op, table string, row interface{}) error {
	_, err := t.httpClient.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   RESTPrefix + table,
		Headers: map[string]string{
			"Prefer": "resolution=ignore-duplicates,return=minimal",
		},
		Body: row,
	})
	return err
}

// Upsert POSTs row, merging into the row matching the onConflict columns.
func (t *DefaultTransport) Upsert(ctx context.Context, op, table string, row interface{}, onConflict string) error {
	q := url.Values{}
	if onConflict != "" {
		q.Set("on_conflict", onConflict)
	}

	_, err := t.httpClient.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   RESTPrefix + table,
		Query:  q,
		Headers: map[string]string{
			"Prefer": "resolution=merge-duplicates,return=minimal",
		},
		Body: row,
	})
	return err
}

// Update PATCHes the rows matching filter and returns how many matched.
func (t *DefaultTransport) Update(ctx context.Context, op, table string, filter url.Values, patch interface{}) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%s: update without filter", op)
	}

	resp, err := t.httpClient.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPatch,
		Path:   RESTPrefix + table,
		Query:  cloneQuery(filter),
		Headers: map[string]string{
			"Prefer": "return=representation",
		},
		Body: patch,
	})
	if err != nil {
		return 0, err
	}

	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return 0, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return 0, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return len(rows), nil
}

// Ping forwards to HTTP client.
func (t *DefaultTransport) Ping(ctx context.Context) error {
	return t.httpClient.Ping(ctx)
}

// Realtime starts a change feed for tables. The channel closes when ctx ends.
func (t *DefaultTransport) Realtime(ctx context.Context, tables []string) (<-chan models.Notification, error) {
	if t.realtimeURL == "" {
		return nil, ErrRealtimeDisabled
	}

	rt := NewRealtimeClient(t.realtimeURL, t.apiKey, tables, t.logger, t.rtOpts...)
	return rt.Run(ctx), nil
}

// Close releases idle connections.
func (t *DefaultTransport) Close() error {
	t.httpClient.client.CloseIdleConnections()
	return nil
}

// Eq builds a PostgREST equality filter value.
func Eq(v string) string {
	return "eq." + v
}

func cloneQuery(q url.Values) url.Values {
	out := url.Values{}
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
