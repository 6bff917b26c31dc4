package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/petotech/judge-backend/internal/auth"
	"github.com/petotech/judge-backend/internal/combat"
	"github.com/petotech/judge-backend/internal/hub"
	"github.com/petotech/judge-backend/internal/judging"
	"github.com/petotech/judge-backend/internal/store"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, statusResponse{Status: "error", Message: msg})
}

// Login exchanges a judge credential for the combat id and a session token
// the websocket handshake accepts.
func Login(st *store.Store, secret string, ttl time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password == "" {
			writeError(w, http.StatusBadRequest, "missing password")
			return
		}

		combatID, err := st.Authenticate(r.Context(), body.Password)
		if errors.Is(err, store.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		if err != nil {
			logger.Error("login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}

		token, session, err := auth.Issue(secret, combatID, ttl)
		if err != nil {
			logger.Error("token issue failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}

		logger.Info("session issued",
			zap.String("session_id", session.ID),
			zap.String("combat_id", combatID))

		writeJSON(w, http.StatusOK, struct {
			Status   string `json:"status"`
			CombatID string `json:"combat_id"`
			Token    string `json:"token"`
		}{Status: "ok", CombatID: combatID, Token: token})
	}
}

// CreateUser registers a new credential bound to a combat.
func CreateUser(st *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string `json:"password"`
			CombatID string `json:"combat_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password == "" || body.CombatID == "" {
			writeError(w, http.StatusBadRequest, "missing password or combat_id")
			return
		}

		err := st.CreateUser(r.Context(), body.Password, body.CombatID)
		if errors.Is(err, store.ErrCredentialExists) {
			writeError(w, http.StatusConflict, "credential already exists")
			return
		}
		if err != nil {
			logger.Error("create user failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create user failed")
			return
		}
		writeJSON(w, http.StatusCreated, statusResponse{Status: "ok"})
	}
}

// GetPoints returns the current per-color totals for a combat.
func GetPoints(st *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		combatID := chi.URLParam(r, "combatID")
		totals, err := st.Totals(r.Context(), combatID)
		if err != nil {
			logger.Error("load totals failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "load totals failed")
			return
		}
		writeJSON(w, http.StatusOK, totals)
	}
}

// GetCombatState reports seats, incident count and the gate for a combat.
func GetCombatState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cb := h.Get(chi.URLParam(r, "combatID"))
		if cb == nil {
			writeError(w, http.StatusNotFound, "combat not found")
			return
		}

		reply := make(chan combat.View, 1)
		cb.Inbox() <- combat.GetView{Reply: reply}
		view := <-reply

		type seatOut struct {
			Seat   int    `json:"seat"`
			Device string `json:"device,omitempty"`
		}
		out := struct {
			Seats          []seatOut `json:"seats"`
			Incidents      int       `json:"incidents"`
			ScoringEnabled bool      `json:"scoring_enabled"`
			Connections    int       `json:"connections"`
		}{
			Incidents:      view.Incidents,
			ScoringEnabled: view.ScoringEnabled,
			Connections:    view.NumClients,
		}
		for _, seat := range view.Seats {
			out.Seats = append(out.Seats, seatOut{Seat: seat.Number, Device: seat.Device})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ResetFull is the aggregation-complete trigger: seats, incidents, gate and
// stored totals are all cleared and RESET_COMPLETO is broadcast.
func ResetFull(h *hub.Hub, st *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		combatID := chi.URLParam(r, "combatID")
		cb := h.Get(combatID)
		if cb == nil {
			writeError(w, http.StatusNotFound, "combat not found")
			return
		}

		if err := st.ResetScores(r.Context(), combatID); err != nil {
			logger.Error("reset totals failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
		cb.Inbox() <- combat.FromDevice{Cmd: judging.Command{Type: judging.CmdResetFull}}
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// ResetScoresOnly clears stored totals and broadcasts the visual reset.
// Seats stay claimed and the gate keeps its state.
func ResetScoresOnly(h *hub.Hub, st *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		combatID := chi.URLParam(r, "combatID")
		cb := h.Get(combatID)
		if cb == nil {
			writeError(w, http.StatusNotFound, "combat not found")
			return
		}

		if err := st.ResetScores(r.Context(), combatID); err != nil {
			logger.Error("reset totals failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
		cb.Inbox() <- combat.FromDevice{Cmd: judging.Command{Type: judging.CmdResetScores}}
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// RegisterAlert logs an out-of-band alert raised from a device.
func RegisterAlert(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad request body")
			return
		}
		if body.Message == "" {
			body.Message = "alert without message"
		}
		logger.Warn("alert received", zap.String("message", body.Message))
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "alert registered"})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
