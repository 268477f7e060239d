// --- File: internal/platform/fcm/fcmdispatcher.go ---
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-relay/internal/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// MaxMulticastTokens is the largest token list FCM accepts in one multicast.
const MaxMulticastTokens = 500

var errEmptyBatchResponse = errors.New("provider returned no batch response")

type Dispatcher struct {
	client  MessagingClient
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher wraps the client. A zero timeout leaves provider calls bounded
// only by the caller's context.
func NewDispatcher(client MessagingClient, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "FCMDispatcher"),
	}
}

// DispatchOne sends the content to a single token.
func (d *Dispatcher) DispatchOne(ctx context.Context, token string, content notification.NotificationContent) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token: %w", relay.ErrMissingParameter)
	}

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	receipt, err := d.client.Send(callCtx, msg)
	if err != nil {
		d.metrics.ObserveDispatch(metrics.KindSingle, metrics.StatusError, 1)
		d.logger.Error("FCM send failed", "err", err)
		return "", &relay.DispatchError{Cause: err}
	}

	d.metrics.ObserveDispatch(metrics.KindSingle, metrics.StatusSuccess, 1)
	d.logger.Debug("FCM send accepted", "receipt", receipt)
	return receipt, nil
}

// DispatchMany multicasts the content to every token. An empty token list is
// a successful no-op.
func (d *Dispatcher) DispatchMany(ctx context.Context, tokens []string, content notification.NotificationContent) (*relay.MulticastOutcome, error) {
	outcome := &relay.MulticastOutcome{
		TargetCount: len(tokens),
		Responses:   make([]relay.TokenResult, 0, len(tokens)),
	}
	if len(tokens) == 0 {
		d.metrics.ObserveDispatch(metrics.KindMulticast, metrics.StatusSkipped, 0)
		return outcome, nil
	}

	next := tokens
	for len(next) > 0 {
		batch := next
		if len(batch) > MaxMulticastTokens {
			batch = next[:MaxMulticastTokens]
		}
		next = next[len(batch):]

		br, err := d.sendBatch(ctx, batch, content)
		if err == nil && br == nil {
			err = errEmptyBatchResponse
		}
		if err != nil {
			d.metrics.ObserveDispatch(metrics.KindMulticast, metrics.StatusError, len(batch))
			d.logger.Error("FCM multicast failed", "tokens", len(batch), "err", err)
			return nil, &relay.DispatchError{Cause: fmt.Errorf("fcm multicast failed: %w", err)}
		}
		d.metrics.ObserveDispatch(metrics.KindMulticast, metrics.StatusSuccess, len(batch))
		mergeBatch(outcome, batch, br)
	}

	d.logger.Info("FCM multicast sent",
		"targets", outcome.TargetCount,
		"success", outcome.SuccessCount,
		"failure", outcome.FailureCount,
	)
	return outcome, nil
}

func (d *Dispatcher) sendBatch(ctx context.Context, tokens []string, content notification.NotificationContent) (*messaging.BatchResponse, error) {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}

	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.client.SendEachForMulticast(callCtx, msg)
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// mergeBatch appends the per-token breakdown of one provider batch.
// Responses are positional: Responses[i] belongs to tokens[i].
func mergeBatch(outcome *relay.MulticastOutcome, tokens []string, br *messaging.BatchResponse) {
	outcome.SuccessCount += br.SuccessCount
	outcome.FailureCount += br.FailureCount

	for idx, token := range tokens {
		result := relay.TokenResult{Token: token}
		if idx < len(br.Responses) && br.Responses[idx] != nil {
			resp := br.Responses[idx]
			result.Success = resp.Success
			result.MessageID = resp.MessageID
			if resp.Error != nil {
				result.Error = resp.Error.Error()
			}
		}
		outcome.Responses = append(outcome.Responses, result)
	}
}
