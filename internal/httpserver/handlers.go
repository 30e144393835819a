package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"hookrelay/internal/observability"
	"hookrelay/internal/queue/sqs"
	"hookrelay/internal/service"
)

type PollTriggerQueue interface {
	EnqueuePollTrigger(ctx context.Context, ev sqsqueue.PollTrigger) error
}

type API struct {
	Ingest *service.Ingest
	Queue  PollTriggerQueue // nil disables the gmail push endpoint
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/webhook-data/capture/{webhookId}", a.handleCapture).Methods(http.MethodPost)
	r.HandleFunc("/webhook-data/list-storage/{webhookId}", a.handleListStorage).Methods(http.MethodPost)
	r.HandleFunc("/webhook-data/history/{webhookId}", a.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/webhook-data/gmail/notify", a.handleGmailNotify).Methods(http.MethodPost)
}

// envelope is the uniform response shape origin systems expect.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func readPayload(r *http.Request) (map[string]any, []byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return nil, nil, false
	}
	return payload, raw, true
}

func (a *API) handleCapture(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["webhookId"]

	payload, raw, ok := readPayload(r)
	if !ok {
		observability.Captures.WithLabelValues("400").Inc()
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: ErrInvalidJSON})
		return
	}

	res, err := a.Ingest.Capture(r.Context(), token, payload, raw)
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			observability.Captures.WithLabelValues("404").Inc()
			writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: ErrNotFound})
			return
		}
		slog.Error("capture failed", "webhook_id", token, "err", err)
		observability.Captures.WithLabelValues("500").Inc()
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: ErrDependency})
		return
	}

	observability.Captures.WithLabelValues("200").Inc()
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "webhook data captured", Data: res})
}

func (a *API) handleListStorage(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["webhookId"]

	payload, raw, ok := readPayload(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: ErrInvalidJSON})
		return
	}

	err := a.Ingest.ListStorage(r.Context(), token, payload, raw)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "contact stored"})
	case errors.Is(err, service.ErrBadListStorageID):
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: ErrBadListID})
	case errors.Is(err, service.ErrWebhookNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: ErrNotFound})
	default:
		slog.Error("list-storage failed", "webhook_id", token, "err", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: ErrDependency})
	}
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["webhookId"]
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	res, err := a.Ingest.History(r.Context(), token, page, limit)
	if err != nil {
		if errors.Is(err, service.ErrWebhookNotFound) {
			writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: ErrNotFound})
			return
		}
		slog.Error("history failed", "webhook_id", token, "err", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: ErrDependency})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: res})
}

// pushEnvelope is the Pub/Sub push wrapper around a Gmail notification.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"` // base64 of {"emailAddress","historyId"}
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (a *API) handleGmailNotify(w http.ResponseWriter, r *http.Request) {
	if a.Queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: "gmail notifications disabled"})
		return
	}

	var env pushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: ErrInvalidJSON})
		return
	}
	trigger, err := sqsqueue.DecodePollTrigger(env.Message.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: ErrInvalidJSON})
		return
	}

	if err := a.Queue.EnqueuePollTrigger(r.Context(), trigger); err != nil {
		observability.Enqueues.WithLabelValues("error").Inc()
		slog.Error("poll trigger enqueue failed", "email", trigger.EmailAddress, "err", err)
		// Non-2xx so the push subscription redelivers.
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: ErrDependency})
		return
	}
	observability.Enqueues.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, envelope{Success: true})
}
