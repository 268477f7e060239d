package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

var validate = validator.New()

type NotifyAPI struct {
	ServiceName string
	Dispatcher  dispatch.Dispatcher
	Resolver    dispatch.Resolver
	Logger      *slog.Logger
}

func NewNotifyAPI(serviceName string, dispatcher dispatch.Dispatcher, resolver dispatch.Resolver, logger *slog.Logger) *NotifyAPI {
	return &NotifyAPI{
		ServiceName: serviceName,
		Dispatcher:  dispatcher,
		Resolver:    resolver,
		Logger:      logger.With("component", "NotifyAPI"),
	}
}

// SendNotificationRequest targets a single device token.
type SendNotificationRequest struct {
	Token string  `json:"token" validate:"required"`
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

// SendGroupNotificationRequest targets every device of every member of a group.
type SendGroupNotificationRequest struct {
	VacanzaID string  `json:"vacanza_id" validate:"required"`
	Title     *string `json:"title,omitempty"`
	Body      *string `json:"body,omitempty"`
}

type sendResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

type groupSendResponse struct {
	Success    bool                    `json:"success"`
	TokensSent int                     `json:"tokens_sent"`
	Response   *relay.MulticastOutcome `json:"response,omitempty"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

// Home reports that the service is up.
func (api *NotifyAPI) Home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, api.ServiceName+" active")
}

// SendNotification forwards one notification to one token.
func (api *NotifyAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	log := api.Logger.With("request_id", uuid.NewString(), "route", "send_notification")

	var req SendNotificationRequest
	if err := decodeBody(r, &req); err != nil {
		log.Warn("Request decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	payload := relay.NewPayload(req.Title, req.Body)
	receipt, err := api.Dispatcher.DispatchOne(ctx, req.Token, payload.Content())
	if err != nil {
		api.writeDispatchFailure(w, log, err)
		return
	}

	log.Info("Notification sent", "receipt", receipt)
	response.WriteJSON(w, http.StatusOK, sendResponse{Success: true, Response: receipt})
}

// SendGroupNotification resolves the group's tokens and multicasts to all of them.
func (api *NotifyAPI) SendGroupNotification(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	log := api.Logger.With("request_id", uuid.NewString(), "route", "send_notification_group")

	var req SendGroupNotificationRequest
	if err := decodeBody(r, &req); err != nil {
		log.Warn("Request decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "missing vacanza_id")
		return
	}
	log = log.With("vacanza_id", req.VacanzaID)

	tokens, err := api.Resolver.Resolve(ctx, req.VacanzaID)
	if err != nil {
		var qe *relay.QueryError
		if errors.As(err, &qe) {
			log.Error("Group resolve failed", "status", qe.Status, "err", err)
			response.WriteJSON(w, http.StatusInternalServerError, errorResponse{
				Error:  "group membership query failed",
				Detail: upstreamDetail(qe),
			})
			return
		}
		api.writeDispatchFailure(w, log, err)
		return
	}

	if len(tokens) == 0 {
		log.Info("No recipients for group")
		response.WriteJSON(w, http.StatusOK, groupSendResponse{Success: true, TokensSent: 0})
		return
	}

	payload := relay.NewPayload(req.Title, req.Body)
	outcome, err := api.Dispatcher.DispatchMany(ctx, tokens, payload.Content())
	if err != nil {
		api.writeDispatchFailure(w, log, err)
		return
	}

	log.Info("Group notification sent", "tokens", outcome.TargetCount, "success", outcome.SuccessCount)
	response.WriteJSON(w, http.StatusOK, groupSendResponse{
		Success:    true,
		TokensSent: outcome.TargetCount,
		Response:   outcome,
	})
}

func (api *NotifyAPI) writeDispatchFailure(w http.ResponseWriter, log *slog.Logger, err error) {
	log.Error("Dispatch failed", "err", err)
	response.WriteJSON(w, http.StatusInternalServerError, failureResponse{Success: false, Error: err.Error()})
}

// decodeBody treats an empty body as an empty object so that a missing
// field is reported as such.
func decodeBody(r *http.Request, dest any) error {
	err := json.NewDecoder(r.Body).Decode(dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// upstreamDetail echoes the upstream body, keeping it structured when it is JSON.
func upstreamDetail(qe *relay.QueryError) any {
	if json.Valid(qe.Body) {
		return json.RawMessage(qe.Body)
	}
	return qe.Detail()
}
