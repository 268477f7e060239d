// Package resolver expands a group identifier into the destination tokens of
// its members.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-relay/internal/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// DefaultMaxConcurrency bounds the per-member token lookups of one resolve.
const DefaultMaxConcurrency = 8

type Resolver struct {
	store          dispatch.GroupStore
	maxConcurrency int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// New creates a resolver over store. maxConcurrency <= 0 uses
// DefaultMaxConcurrency; 1 makes lookups strictly sequential.
func New(store dispatch.GroupStore, maxConcurrency int, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Resolver{
		store:          store,
		maxConcurrency: maxConcurrency,
		metrics:        m,
		logger:         logger.With("component", "Resolver"),
	}
}

// Resolve returns the concatenated tokens of every member of groupID, in
// member order. Duplicates are kept. A failed membership query fails the
// resolve; a failed per-member lookup only drops that member's tokens.
func (r *Resolver) Resolve(ctx context.Context, groupID string) ([]string, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group id: %w", relay.ErrMissingParameter)
	}
	log := r.logger.With("group_id", groupID)

	members, err := r.store.MembersOf(ctx, groupID)
	if err != nil {
		log.Error("Membership query failed", "err", err)
		return nil, fmt.Errorf("failed to resolve group %s: %w", groupID, err)
	}
	if len(members) == 0 {
		log.Info("Group has no members")
		r.metrics.ObserveResolve(0)
		return []string{}, nil
	}

	perMember := make([][]string, len(members))

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for i, member := range members {
		g.Go(func() error {
			tokens, err := r.store.TokensOf(ctx, member)
			if err != nil {
				log.Warn("Token lookup failed, skipping member", "member_id", member, "err", err)
				return nil
			}
			perMember[i] = tokens
			return nil
		})
	}
	_ = g.Wait()

	tokens := make([]string, 0, len(members))
	for _, memberTokens := range perMember {
		tokens = append(tokens, memberTokens...)
	}

	r.metrics.ObserveResolve(len(tokens))
	log.Debug("Group resolved", "members", len(members), "tokens", len(tokens))
	return tokens, nil
}
