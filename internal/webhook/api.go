package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/consbridge/consbridge/internal/store"
)

type ctxKey string

const ctxSubject ctxKey = "sub"

// jwtMiddleware guards the internal API with an HS256 bearer token. In
// development a missing token falls back to the X-Debug-Sub header.
func (s *Server) jwtMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			tok = h[7:]
		}

		sub := ""
		if s.Cfg.Dev() && tok == "" {
			sub = r.Header.Get("X-Debug-Sub")
		}

		if tok != "" {
			claims := jwt.MapClaims{}
			t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(s.Cfg.APIJWTSecret), nil
			})
			if err != nil || !t.Valid {
				s.Log.Warn().Err(err).Msg("jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if v, ok := claims["sub"].(string); ok {
				sub = v
			}
		}

		if sub == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func subject(ctx context.Context) string {
	if v, ok := ctx.Value(ctxSubject).(string); ok {
		return v
	}
	return ""
}

// consultationView is the API representation of a consultation.
type consultationView struct {
	ConsID     string     `json:"cons_id"`
	ClRefKey   *string    `json:"cl_ref_key,omitempty"`
	Number     string     `json:"number"`
	Status     string     `json:"status"`
	Type       string     `json:"type"`
	Denied     bool       `json:"denied"`
	CreateDate *time.Time `json:"create_date,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Manager    *string    `json:"manager,omitempty"`
	ClientID   string     `json:"client_id,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

func viewOf(c *store.Consultation) consultationView {
	v := consultationView{
		ConsID:     c.ConsID,
		Number:     c.Number,
		Status:     string(c.Status),
		Type:       string(c.Type),
		Denied:     c.Denied,
		CreateDate: c.CreateDate,
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
		Manager:    c.Manager,
		ClientID:   c.ClientID,
		Comment:    c.Comment,
	}
	if c.ClRefKey != nil {
		key := c.ClRefKey.String()
		v.ClRefKey = &key
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	consID := chi.URLParam(r, "id")

	c, err := s.Store.GetConsultationByConsID(r.Context(), s.Store.Pool, consID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Log.Error().Err(err).Str("cons_id", consID).Msg("consultation lookup failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(c))
}

// patchRequest is the mutable subset exposed to operator tooling.
type patchRequest struct {
	Status  *string `json:"status"`
	Comment *string `json:"comment"`
}

// handlePatchConsultation applies an operator-tool mutation. Changes are
// logged with origin API and pushed to the ERP the same way webhook ones
// are.
func (s *Server) handlePatchConsultation(w http.ResponseWriter, r *http.Request) {
	consID := chi.URLParam(r, "id")

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.Status == nil && req.Comment == nil {
		http.Error(w, "empty patch", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := s.Store.Pool.Begin(ctx)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)

	c, err := s.Store.GetConsultationByConsID(ctx, tx, consID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Log.Error().Err(err).Str("cons_id", consID).Msg("consultation lookup failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	statusChanged := false
	if req.Status != nil {
		st := store.Status(*req.Status)
		switch st {
		case store.StatusNew, store.StatusPending, store.StatusOpen, store.StatusOther,
			store.StatusClosed, store.StatusResolved, store.StatusCancelled:
		default:
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		if st != c.Status {
			old := string(c.Status)
			c.Status = st
			if c.Status.Terminal() && c.EndDate == nil {
				now := time.Now().UTC()
				c.EndDate = &now
			}
			newVal := string(st)
			if err := s.Store.AppendChange(ctx, tx, store.ChangeEntry{
				ConsID:   c.ConsID,
				Field:    "status",
				OldValue: &old,
				NewValue: &newVal,
				Source:   store.SourceAPI,
			}); err != nil {
				http.Error(w, "server error", http.StatusInternalServerError)
				return
			}
			statusChanged = true
		}
	}
	if req.Comment != nil && *req.Comment != c.Comment {
		old := c.Comment
		c.Comment = *req.Comment
		if err := s.Store.AppendChange(ctx, tx, store.ChangeEntry{
			ConsID:   c.ConsID,
			Field:    "comment",
			OldValue: &old,
			NewValue: req.Comment,
			Source:   store.SourceAPI,
		}); err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}

	if err := s.Store.UpdateConsultation(ctx, tx, c); err != nil {
		s.Log.Error().Err(err).Str("cons_id", consID).Msg("consultation update failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	s.Log.Info().Str("cons_id", consID).Str("sub", subject(ctx)).Msg("api mutation applied")

	if statusChanged && c.ClRefKey != nil {
		s.enqueueERPWrite(c, true, false, nil)
	}
	writeJSON(w, http.StatusOK, viewOf(c))
}
