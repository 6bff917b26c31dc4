// Package ws bridges websocket connections to combat actors. Each
// connection runs a writer goroutine draining its outbox (FIFO per
// connection) and a reader loop decoding wire lines into commands.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/petotech/judge-backend/internal/auth"
	"github.com/petotech/judge-backend/internal/combat"
	"github.com/petotech/judge-backend/internal/hub"
	"github.com/petotech/judge-backend/internal/judging"
	"github.com/petotech/judge-backend/pkg/protocol"
)

const writeTimeout = 3 * time.Second

// Handler upgrades /ws requests. The session token issued at login selects
// the combat; the device id is client-generated and unique per install.
func Handler(h *hub.Hub, secret string, readTimeout time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		session, err := auth.Verify(secret, token)
		if err != nil {
			// Expired or tampered session: refuse the handshake, the
			// client must log in again.
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}

		device := r.URL.Query().Get("device")
		if device == "" {
			device = uuid.NewString()
		} else if !protocol.ValidDeviceID(device) {
			// Device ids end up inside broadcast snapshot lines; a
			// delimiter in one would corrupt the snapshot for every peer.
			http.Error(w, "invalid device id", http.StatusBadRequest)
			return
		}

		cb := h.Ensure(session.CombatID)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		log := logger.With(
			zap.String("combat_id", session.CombatID),
			zap.String("device", device),
		)

		out := make(chan protocol.ServerMessage, 16)
		cb.Inbox() <- combat.Join{Device: device, Outbox: out}
		// Leaving releases the device's seat server-side, so a transport
		// failure never leaves a seat squatted.
		defer func() { cb.Inbox() <- combat.Leave{Device: device, Outbox: out} }()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out)
		go pingLoop(writeCtx, conn, readTimeout/2)

		// Reader loop. The read deadline doubles as the liveness bound: a
		// device that vanishes without a close is gone within one interval.
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				log.Info("connection lost", zap.Error(err))
				return
			}

			msg, err := protocol.ParseClient(string(data))
			if err != nil {
				log.Warn("unparseable message", zap.ByteString("line", data), zap.Error(err))
				continue
			}

			cmd, ok := toCommand(device, msg)
			if !ok {
				continue
			}
			cb.Inbox() <- combat.FromDevice{Device: device, Cmd: cmd}
		}
	}
}

// toCommand maps a wire message onto a judging command. The handshake
// device id is authoritative; the device field inside SELECCIONAR_JUEZ is
// legacy and ignored when it disagrees.
func toCommand(device string, m protocol.ClientMessage) (judging.Command, bool) {
	switch msg := m.(type) {
	case protocol.SelectJudge:
		return judging.Command{Type: judging.CmdClaimSeat, Device: device, Seat: msg.Seat}, true
	case protocol.Incident:
		return judging.Command{Type: judging.CmdRecordIncident, Device: device, Kind: msg.Kind}, true
	case protocol.Score:
		return judging.Command{
			Type:   judging.CmdSubmitScore,
			Device: device,
			Points: msg.Points,
			Color:  judging.Color(msg.Color),
		}, true
	default:
		return judging.Command{}, false
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan protocol.ServerMessage) {
	for msg := range out {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		_ = conn.Write(wctx, websocket.MessageText, []byte(protocol.EncodeServer(msg)))
		cancel()
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
