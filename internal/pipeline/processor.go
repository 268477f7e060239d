package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// NewProcessor handles one RelayRequest the same way the HTTP routes do.
// Failures are logged and the message is acknowledged: sends are never retried.
func NewProcessor(
	dispatcher dispatch.Dispatcher,
	resolver dispatch.Resolver,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[RelayRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *RelayRequest) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)
		content := relay.NewPayload(request.Title, request.Body).Content()

		// Path A: single token
		if request.Token != "" {
			receipt, err := dispatcher.DispatchOne(ctx, request.Token, content)
			if err != nil {
				procLogger.Error("FCM Dispatch failed", "err", err)
				return nil
			}
			procLogger.Info("FCM Dispatched", "receipt", receipt)
			return nil
		}

		// Path B: group fan-out
		procLogger = procLogger.With("vacanza_id", request.VacanzaID)
		tokens, err := resolver.Resolve(ctx, request.VacanzaID)
		if err != nil {
			procLogger.Error("Failed to resolve group tokens", "err", err)
			return nil
		}
		if len(tokens) == 0 {
			procLogger.Info("No devices registered for group; dropping notification.")
			return nil
		}

		outcome, err := dispatcher.DispatchMany(ctx, tokens, content)
		if err != nil {
			procLogger.Error("FCM Multicast failed", "err", err)
			return nil
		}
		procLogger.Info("FCM Multicast dispatched",
			"tokens", outcome.TargetCount,
			"success", outcome.SuccessCount,
			"failure", outcome.FailureCount,
		)
		return nil
	}
}
