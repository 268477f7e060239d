package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/resolver"
	"github.com/tinywideclouds/go-push-relay/internal/storage/postgrest"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const storeURL = "https://db.example.com"

// --- Mocks ---
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) DispatchOne(ctx context.Context, token string, content notification.NotificationContent) (string, error) {
	args := m.Called(ctx, token, content)
	return args.String(0), args.Error(1)
}

func (m *MockDispatcher) DispatchMany(ctx context.Context, tokens []string, content notification.NotificationContent) (*relay.MulticastOutcome, error) {
	args := m.Called(ctx, tokens, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*relay.MulticastOutcome), args.Error(1)
}

// --- Setup ---

// setupAPI wires the real resolver over an httpmock-backed REST store.
func setupAPI(t *testing.T) (*api.NotifyAPI, *MockDispatcher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	store := postgrest.NewGroupStore(postgrest.Config{
		BaseURL:    storeURL,
		ServiceKey: "key",
		Timeout:    time.Second,
		Members:    postgrest.Relation{Name: "vacanza_partecipanti", FilterField: "vacanza_id", SelectField: "user_id"},
		Tokens:     postgrest.Relation{Name: "user_tokens", FilterField: "user_id", SelectField: "token"},
	}, client, nil)

	mockDispatcher := new(MockDispatcher)
	return api.NewNotifyAPI("push-relay", mockDispatcher, resolver.New(store, 1, nil, logger), logger), mockDispatcher
}

func registerMembers(groupID string, status int, body string) {
	httpmock.RegisterResponderWithQuery(http.MethodGet, storeURL+"/rest/v1/vacanza_partecipanti",
		map[string]string{"vacanza_id": "eq." + groupID, "select": "user_id"},
		httpmock.NewStringResponder(status, body))
}

func registerTokens(memberID string, status int, body string) {
	httpmock.RegisterResponderWithQuery(http.MethodGet, storeURL+"/rest/v1/user_tokens",
		map[string]string{"user_id": "eq." + memberID, "select": "token"},
		httpmock.NewStringResponder(status, body))
}

func post(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// --- Tests ---

func TestHome(t *testing.T) {
	apiHandler, _ := setupAPI(t)
	w := httptest.NewRecorder()

	apiHandler.Home(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "push-relay active", w.Body.String())
}

func TestSendNotification(t *testing.T) {
	t.Run("Applies defaults and returns receipt", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		expected := notification.NotificationContent{Title: "Nuova notifica", Body: ""}
		mockDispatcher.On("DispatchOne", mock.Anything, "abc", expected).Return("projects/p/messages/1", nil).Once()

		w := post(t, apiHandler.SendNotification, "/send_notification", `{"token":"abc"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"response":"projects/p/messages/1"}`, w.Body.String())
		mockDispatcher.AssertExpectations(t)
	})

	t.Run("Keeps explicit title and body", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		expected := notification.NotificationContent{Title: "", Body: "Partenza alle 8"}
		mockDispatcher.On("DispatchOne", mock.Anything, "abc", expected).Return("id", nil).Once()

		w := post(t, apiHandler.SendNotification, "/send_notification", `{"token":"abc","title":"","body":"Partenza alle 8"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		mockDispatcher.AssertExpectations(t)
	})

	for name, body := range map[string]string{
		"Absent token": `{"title":"x"}`,
		"Empty token":  `{"token":""}`,
		"Empty body":   ``,
	} {
		t.Run("Rejects "+name, func(t *testing.T) {
			apiHandler, mockDispatcher := setupAPI(t)

			w := post(t, apiHandler.SendNotification, "/send_notification", body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "missing token", decode(t, w)["error"])
			mockDispatcher.AssertNotCalled(t, "DispatchOne", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Rejects malformed json", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)

		w := post(t, apiHandler.SendNotification, "/send_notification", `{"token":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockDispatcher.AssertNotCalled(t, "DispatchOne", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Provider failure", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		mockDispatcher.On("DispatchOne", mock.Anything, "abc", mock.Anything).
			Return("", &relay.DispatchError{Cause: errors.New("Requested entity was not found.")}).Once()

		w := post(t, apiHandler.SendNotification, "/send_notification", `{"token":"abc"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"Requested entity was not found."}`, w.Body.String())
	})
}

func TestSendGroupNotification(t *testing.T) {
	t.Run("Fans out to every member token", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		registerMembers("v1", http.StatusOK, `[{"user_id":"u1"},{"user_id":"u2"}]`)
		registerTokens("u1", http.StatusOK, `[{"token":"t1"}]`)
		registerTokens("u2", http.StatusOK, `[{"token":"t2"},{"token":"t3"}]`)

		outcome := &relay.MulticastOutcome{
			TargetCount:  3,
			SuccessCount: 3,
			Responses: []relay.TokenResult{
				{Token: "t1", Success: true, MessageID: "m1"},
				{Token: "t2", Success: true, MessageID: "m2"},
				{Token: "t3", Success: true, MessageID: "m3"},
			},
		}
		mockDispatcher.On("DispatchMany", mock.Anything, []string{"t1", "t2", "t3"}, mock.Anything).Return(outcome, nil).Once()

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"vacanza_id":"v1"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		out := decode(t, w)
		assert.Equal(t, true, out["success"])
		assert.EqualValues(t, 3, out["tokens_sent"])
		assert.Contains(t, out, "response")
		mockDispatcher.AssertExpectations(t)
	})

	t.Run("Group without members", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		registerMembers("v2", http.StatusOK, `[]`)

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"vacanza_id":"v2"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"tokens_sent":0}`, w.Body.String())
		assert.Equal(t, 1, httpmock.GetTotalCallCount())
		mockDispatcher.AssertNotCalled(t, "DispatchMany", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Members without tokens", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		registerMembers("v3", http.StatusOK, `[{"user_id":"u1"},{"user_id":"u2"}]`)
		registerTokens("u1", http.StatusOK, `[]`)
		registerTokens("u2", http.StatusOK, `[]`)

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"vacanza_id":"v3"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"tokens_sent":0}`, w.Body.String())
		mockDispatcher.AssertNotCalled(t, "DispatchMany", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Failed member lookup is skipped", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		registerMembers("v4", http.StatusOK, `[{"user_id":"u1"},{"user_id":"u2"}]`)
		registerTokens("u1", http.StatusServiceUnavailable, `{"message":"busy"}`)
		registerTokens("u2", http.StatusOK, `[{"token":"t2"}]`)

		mockDispatcher.On("DispatchMany", mock.Anything, []string{"t2"}, mock.Anything).
			Return(&relay.MulticastOutcome{TargetCount: 1, SuccessCount: 1}, nil).Once()

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"vacanza_id":"v4"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, decode(t, w)["tokens_sent"])
	})

	t.Run("Membership query failure echoes upstream detail", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		registerMembers("v5", http.StatusUnauthorized, `{"message":"Invalid API key"}`)

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"vacanza_id":"v5"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"group membership query failed","detail":{"message":"Invalid API key"}}`, w.Body.String())
		assert.Equal(t, 1, httpmock.GetTotalCallCount())
		mockDispatcher.AssertNotCalled(t, "DispatchMany", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Rejects missing vacanza_id without querying", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"title":"x"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "missing vacanza_id", decode(t, w)["error"])
		assert.Equal(t, 0, httpmock.GetTotalCallCount())
	})

	t.Run("Provider failure", func(t *testing.T) {
		apiHandler, mockDispatcher := setupAPI(t)
		registerMembers("v6", http.StatusOK, `[{"user_id":"u1"}]`)
		registerTokens("u1", http.StatusOK, `[{"token":"t1"}]`)
		mockDispatcher.On("DispatchMany", mock.Anything, []string{"t1"}, mock.Anything).
			Return(nil, &relay.DispatchError{Cause: errors.New("fcm multicast failed: auth")}).Once()

		w := post(t, apiHandler.SendGroupNotification, "/send_notification_group", `{"vacanza_id":"v6"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"fcm multicast failed: auth"}`, w.Body.String())
	})
}
