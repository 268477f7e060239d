// Package relay contains the public domain types and errors of the push relay.
package relay

import "github.com/tinywideclouds/go-platform/pkg/notification/v1"

// DefaultTitle is used when a request carries no title.
const DefaultTitle = "Nuova notifica"

// Payload is the title/body pair of a single notification request.
type Payload struct {
	Title string
	Body  string
}

// NewPayload applies the request defaults to optional title and body values.
func NewPayload(title, body *string) Payload {
	p := Payload{Title: DefaultTitle}
	if title != nil {
		p.Title = *title
	}
	if body != nil {
		p.Body = *body
	}
	return p
}

// Content converts the payload to the platform notification content.
func (p Payload) Content() notification.NotificationContent {
	return notification.NotificationContent{
		Title: p.Title,
		Body:  p.Body,
	}
}

// TokenResult is the provider outcome for one token of a multicast.
type TokenResult struct {
	Token     string `json:"token"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MulticastOutcome is the aggregate result of a multi-target send.
type MulticastOutcome struct {
	TargetCount  int           `json:"-"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Responses    []TokenResult `json:"responses"`
}
