// Package postgrest reads group memberships and token registrations from a
// PostgREST-style REST endpoint (as exposed by Supabase).
package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Relation names one table and the columns used to filter and select it.
type Relation struct {
	Name        string
	FilterField string
	SelectField string
}

// Config holds the connection and schema settings of the store.
type Config struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	Members    Relation
	Tokens     Relation
}

// maxErrorBody caps how much of a failed response is kept for the caller.
const maxErrorBody = 64 << 10

// GroupStore implements dispatch.GroupStore over REST filter queries.
type GroupStore struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Metrics
}

// NewGroupStore creates the store. A nil client gets a fresh one bounded by cfg.Timeout.
func NewGroupStore(cfg Config, client *http.Client, m *metrics.Metrics) *GroupStore {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GroupStore{cfg: cfg, client: client, metrics: m}
}

func (s *GroupStore) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	return s.selectColumn(ctx, s.cfg.Members, groupID)
}

func (s *GroupStore) TokensOf(ctx context.Context, memberID string) ([]string, error) {
	return s.selectColumn(ctx, s.cfg.Tokens, memberID)
}

// selectColumn runs GET <base>/rest/v1/<relation>?<filter>=eq.<value>&select=<column>
// and returns the non-empty string values of the selected column.
func (s *GroupStore) selectColumn(ctx context.Context, rel Relation, value string) (values []string, err error) {
	defer func() { s.metrics.ObserveQuery(rel.Name, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.queryURL(rel, value), nil)
	if err != nil {
		return nil, &relay.QueryError{Relation: rel.Name, Err: err}
	}
	req.Header.Set("apikey", s.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &relay.QueryError{Relation: rel.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &relay.QueryError{
			Relation: rel.Name,
			Status:   resp.StatusCode,
			Body:     body,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &relay.QueryError{Relation: rel.Name, Err: fmt.Errorf("failed to decode rows: %w", err)}
	}

	values = make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[rel.SelectField].(string); ok && v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

func (s *GroupStore) queryURL(rel Relation, value string) string {
	q := url.Values{}
	q.Set(rel.FilterField, "eq."+value)
	q.Set("select", rel.SelectField)
	return fmt.Sprintf("%s/rest/v1/%s?%s", s.cfg.BaseURL, url.PathEscape(rel.Name), q.Encode())
}
