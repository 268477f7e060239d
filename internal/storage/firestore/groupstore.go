// Package firestore reads group memberships and token registrations from
// Cloud Firestore collections.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-push-relay/internal/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Relation names a collection, the field matched by equality and the field read back.
type Relation struct {
	Collection  string
	FilterField string
	SelectField string
}

// FirestoreStore implements dispatch.GroupStore over two collections.
type FirestoreStore struct {
	client  *firestore.Client
	members Relation
	tokens  Relation
	metrics *metrics.Metrics
}

func NewFirestoreStore(client *firestore.Client, members, tokens Relation, m *metrics.Metrics) *FirestoreStore {
	return &FirestoreStore{
		client:  client,
		members: members,
		tokens:  tokens,
		metrics: m,
	}
}

func (s *FirestoreStore) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	return s.selectField(ctx, s.members, groupID)
}

func (s *FirestoreStore) TokensOf(ctx context.Context, memberID string) ([]string, error) {
	return s.selectField(ctx, s.tokens, memberID)
}

func (s *FirestoreStore) selectField(ctx context.Context, rel Relation, value string) (values []string, err error) {
	defer func() { s.metrics.ObserveQuery(rel.Collection, err) }()

	iter := s.client.Collection(rel.Collection).
		Where(rel.FilterField, "==", value).
		Select(rel.SelectField).
		Documents(ctx)
	defer iter.Stop()

	values = make([]string, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &relay.QueryError{
				Relation: rel.Collection,
				Err:      fmt.Errorf("firestore iteration failed: %w", err),
			}
		}

		// Documents without a usable string field are skipped.
		raw, err := doc.DataAt(rel.SelectField)
		if err != nil {
			continue
		}
		if v, ok := raw.(string); ok && v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}
