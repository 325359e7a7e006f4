// Package handler exposes the inbound webhook over HTTP. It accepts
// Evolution-style message events, filters out echoes of our own outbound
// messages and hands real user fragments to the pipeline.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quote-agent/internal/usecase"
)

const maxBodyBytes = 1 << 20

// Inbound is the slice of the pipeline the webhook needs.
type Inbound interface {
	HandleInbound(ctx context.Context, userID, content string) error
}

// webhookEvent mirrors the messages.upsert payload of the chat gateway.
// Text can arrive as a plain conversation or as an extended text message.
type webhookEvent struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		Message struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
		PushName         string `json:"pushName"`
		MessageTimestamp int64  `json:"messageTimestamp"`
	} `json:"data"`
}

func (e *webhookEvent) text() string {
	if t := strings.TrimSpace(e.Data.Message.Conversation); t != "" {
		return t
	}
	return strings.TrimSpace(e.Data.Message.ExtendedTextMessage.Text)
}

// userID is the bare phone portion of the JID.
func (e *webhookEvent) userID() string {
	jid := strings.TrimSpace(e.Data.Key.RemoteJid)
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		jid = jid[:at]
	}
	return jid
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	uc  Inbound
	log zerolog.Logger
}

func NewHandler(uc Inbound, log zerolog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: usecase must not be nil")
	}
	return &Handler{uc: uc, log: log}, nil
}

// Routes returns the full HTTP surface: the webhook and a liveness probe.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", h.webhook)
	mux.HandleFunc("/healthz", h.healthz)
	return mux
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ackResponse{Status: "ok"})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"})
		return
	}

	corrID := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
	if corrID == "" {
		corrID = uuid.NewString()
	}
	w.Header().Set("X-Correlation-Id", corrID)
	log := h.log.With().Str("correlation_id", corrID).Logger()

	var event webhookEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&event); err != nil {
		log.Warn().Err(err).Msg("webhook body rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"})
		return
	}

	// Echoes of our own outbound messages come back through the same
	// webhook and must never re-enter the pipeline.
	if event.Data.Key.FromMe {
		writeJSON(w, http.StatusOK, ackResponse{Status: "ignored"})
		return
	}

	userID := event.userID()
	content := event.text()
	if userID == "" || content == "" {
		// Non-text events (receipts, media) are acked so the gateway
		// does not retry them.
		writeJSON(w, http.StatusOK, ackResponse{Status: "ignored"})
		return
	}

	if err := h.uc.HandleInbound(r.Context(), userID, content); err != nil {
		status, code, reason := mapError(err)
		log.Error().Err(err).Str("user", userID).Msg("inbound rejected")
		writeJSON(w, status, errorResponse{Error: code, Reason: reason})
		return
	}

	log.Debug().Str("user", userID).Msg("fragment queued")
	writeJSON(w, http.StatusOK, ackResponse{Status: "queued"})
}

func mapError(err error) (int, string, string) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), ""
	}
	switch ue.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidMenuReply:
		return http.StatusBadRequest, string(ue.Code), ue.Reason
	case usecase.ErrorUpstream, usecase.ErrorCatalogUnavailable:
		return http.StatusBadGateway, string(ue.Code), ue.Reason
	default:
		return http.StatusInternalServerError, string(ue.Code), ue.Reason
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
