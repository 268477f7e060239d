// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Dispatcher defines the contract for a component that hands notifications
// to the push provider.
type Dispatcher interface {
	// DispatchOne sends the content to a single token and returns the provider receipt.
	DispatchOne(ctx context.Context, token string, content notification.NotificationContent) (string, error)

	// DispatchMany sends the content to every token with one multicast.
	// Duplicate tokens are passed through.
	DispatchMany(ctx context.Context, tokens []string, content notification.NotificationContent) (*relay.MulticastOutcome, error)
}

// GroupStore defines the read-only lookups the resolver needs.
type GroupStore interface {
	// MembersOf returns the member identifiers of a group.
	MembersOf(ctx context.Context, groupID string) ([]string, error)

	// TokensOf returns the destination tokens registered by a member.
	TokensOf(ctx context.Context, memberID string) ([]string, error)
}

// Resolver turns a group identifier into destination tokens.
type Resolver interface {
	Resolve(ctx context.Context, groupID string) ([]string, error)
}
