// --- File: internal/pipeline/transformer.go ---
// Package pipeline handles notification requests that arrive over Pub/Sub.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// RelayRequest is the Pub/Sub message body. It carries either a Token or a
// VacanzaID, with the same optional fields as the HTTP routes.
type RelayRequest struct {
	Token     string  `json:"token,omitempty"`
	VacanzaID string  `json:"vacanza_id,omitempty"`
	Title     *string `json:"title,omitempty"`
	Body      *string `json:"body,omitempty"`
}

var errNoTarget = errors.New("request has neither token nor vacanza_id")

// RelayRequestTransformer unmarshals a raw message into a RelayRequest.
// Malformed or targetless messages are skipped so the pipeline can dead-letter them.
func RelayRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*RelayRequest, bool, error) {
	var req RelayRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal relay request from message %s: %w", msg.ID, err)
	}
	if req.Token == "" && req.VacanzaID == "" {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, errNoTarget)
	}
	return &req, false, nil
}
