package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/consbridge/consbridge/internal/chat"
	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/notify"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/store"
)

const signatureHeader = "X-Webhook-Signature"

// maxBodyBytes caps webhook payloads; CHAT events are small.
const maxBodyBytes = 1 << 20

// Server holds the webhook and internal API dependencies.
type Server struct {
	Cfg      *config.Config
	Store    *store.Store
	Chat     *chat.Client
	OData    *odata.Client
	Notifier *notify.Notifier
	Writer   *Writer
	Log      zerolog.Logger
}

// Routes builds the HTTP router: the CHAT webhook, a health probe and the
// JWT-guarded internal consultation API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/webhook/chatwoot", s.handleWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.jwtMiddleware)
		r.Get("/consultations/{id}", s.handleGetConsultation)
		r.Patch("/consultations/{id}", s.handlePatchConsultation)
	})

	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(raw, r.Header.Get(signatureHeader)) {
		s.Log.Warn().Msg("webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	logID, err := s.Store.InsertWebhookLog(r.Context(), s.Store.Pool, ev.Event, raw)
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to persist webhook payload")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if err := s.processEvent(r.Context(), ev); err != nil {
		s.Log.Error().Err(err).Str("event", ev.Event).Msg("webhook processing failed")
		if mErr := s.Store.MarkWebhookFailed(r.Context(), logID, err.Error()); mErr != nil {
			s.Log.Error().Err(mErr).Int64("webhook_log_id", logID).Msg("failed to mark webhook log")
		}
		// 500 makes CHAT redeliver; processing is idempotent.
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	if err := s.Store.MarkWebhookProcessed(r.Context(), s.Store.Pool, logID); err != nil {
		s.Log.Error().Err(err).Int64("webhook_log_id", logID).Msg("failed to mark webhook log")
	}
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the HMAC-SHA256 hex digest of the raw body. A
// missing signature passes only in development.
func (s *Server) verifySignature(raw []byte, sig string) bool {
	if sig == "" {
		return s.Cfg.Dev()
	}
	mac := hmac.New(sha256.New, []byte(s.Cfg.ChatWebhookSecret))
	mac.Write(raw)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig))
}
