package combat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/petotech/judge-backend/internal/judging"
	"github.com/petotech/judge-backend/pkg/protocol"
)

var testRules = judging.Rules{SeatCount: 3, IncidentQuorum: 2}

// helper: receive one message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) protocol.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return nil // unreachable
	}
}

func recvNoMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no message within %v, got %q", within, protocol.EncodeServer(msg))
	case <-time.After(within):
	}
}

func recvView(t *testing.T, c *Combat) View {
	t.Helper()
	reply := make(chan View, 1)
	c.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func newTestCombat(t *testing.T, sink ScoreSink) *Combat {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "c1", testRules, sink, zap.NewNop())
}

func join(t *testing.T, c *Combat, device string) chan protocol.ServerMessage {
	t.Helper()
	out := make(chan protocol.ServerMessage, 16)
	c.Inbox() <- Join{Device: device, Outbox: out}
	return out
}

type capturedScore struct {
	CombatID string
	Color    string
	Points   int
}

type fakeSink struct {
	calls chan capturedScore
}

func newFakeSink() *fakeSink {
	return &fakeSink{calls: make(chan capturedScore, 8)}
}

func (f *fakeSink) RecordScore(ctx context.Context, combatID string, color string, points int) error {
	f.calls <- capturedScore{CombatID: combatID, Color: color, Points: points}
	return nil
}

func TestCombat_JoinGetsAuthoritativeSnapshot(t *testing.T) {
	c := newTestCombat(t, nil)

	out := join(t, c, "A")
	first := recvMsg(t, out, time.Second)
	if got := protocol.EncodeServer(first); got != "ESTADO_JUECES:[]" {
		t.Fatalf("join snapshot: want empty seat list, got %q", got)
	}
}

func TestCombat_ConcurrentClaimsExactlyOneWinner(t *testing.T) {
	c := newTestCombat(t, nil)

	devices := []string{"A", "B", "C", "D", "E"}
	outs := make(map[string]chan protocol.ServerMessage, len(devices))
	for _, d := range devices {
		outs[d] = join(t, c, d)
		_ = recvMsg(t, outs[d], time.Second) // join snapshot
	}

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			c.Inbox() <- FromDevice{
				Device: device,
				Cmd:    judging.Command{Type: judging.CmdClaimSeat, Device: device, Seat: 1},
			}
		}(d)
	}
	wg.Wait()

	view := recvView(t, c) // serialized after all claims
	if view.Seats[0].Device == "" {
		t.Fatalf("seat 1 should be occupied after concurrent claims")
	}

	// All outcomes are already buffered: the view reply serialized after
	// every claim, and outbox sends happen before the reply is produced.
	rejected := 0
	for _, d := range devices {
	drain:
		for {
			select {
			case msg := <-outs[d]:
				if _, ok := msg.(protocol.JudgeOccupied); ok {
					rejected++
				}
			default:
				break drain
			}
		}
	}
	if rejected != len(devices)-1 {
		t.Fatalf("want %d rejections, got %d", len(devices)-1, rejected)
	}
}

func TestCombat_SwitchingSeatsVacatesOldSeat(t *testing.T) {
	c := newTestCombat(t, nil)
	out := join(t, c, "A")
	_ = recvMsg(t, out, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 1}}
	if got := protocol.EncodeServer(recvMsg(t, out, time.Second)); got != "ESTADO_JUECES:[1-A]" {
		t.Fatalf("after first claim: got %q", got)
	}

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 2}}
	if got := protocol.EncodeServer(recvMsg(t, out, time.Second)); got != "ESTADO_JUECES:[2-A]" {
		t.Fatalf("after switching seats: got %q, device must never hold two seats", got)
	}
}

func TestCombat_InvalidSeatRejectedToCallerOnly(t *testing.T) {
	c := newTestCombat(t, nil)
	outA := join(t, c, "A")
	outB := join(t, c, "B")
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 9}}

	if _, ok := recvMsg(t, outA, time.Second).(protocol.InvalidPosition); !ok {
		t.Fatalf("caller should get POSICION_INVALIDA")
	}
	recvNoMsg(t, outB, 100*time.Millisecond)
}

func TestCombat_LeaveReleasesSeatAndBroadcasts(t *testing.T) {
	c := newTestCombat(t, nil)
	outA := join(t, c, "A")
	outB := join(t, c, "B")
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 2}}
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	// No explicit release message: disconnect alone must free the seat.
	c.Inbox() <- Leave{Device: "A", Outbox: outA}

	if got := protocol.EncodeServer(recvMsg(t, outB, time.Second)); got != "ESTADO_JUECES:[]" {
		t.Fatalf("after leave: got %q", got)
	}

	// A second leave for the same device is harmless.
	c.Inbox() <- Leave{Device: "A", Outbox: outA}
	recvNoMsg(t, outB, 100*time.Millisecond)
}

// A device that reconnects must not lose its seat when the old
// connection's deferred leave finally lands.
func TestCombat_StaleLeaveIgnoredAfterReconnect(t *testing.T) {
	c := newTestCombat(t, nil)

	outOld := join(t, c, "A")
	_ = recvMsg(t, outOld, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 1}}
	_ = recvMsg(t, outOld, time.Second)

	// Reconnect under the same device id. The old outbox is displaced
	// and closed; the new one gets the join snapshot.
	outNew := join(t, c, "A")
	if got := protocol.EncodeServer(recvMsg(t, outNew, time.Second)); got != "ESTADO_JUECES:[1-A]" {
		t.Fatalf("reconnect snapshot: got %q", got)
	}
	if _, ok := <-outOld; ok {
		// drain whatever was buffered until the close is observed
		for range outOld {
		}
	}

	// The old connection's cleanup arrives late.
	c.Inbox() <- Leave{Device: "A", Outbox: outOld}

	view := recvView(t, c)
	if view.Seats[0].Device != "A" {
		t.Fatalf("stale leave must not release the seat: %+v", view.Seats)
	}
	if view.NumClients != 1 {
		t.Fatalf("want 1 client after reconnect, got %d", view.NumClients)
	}

	// The live outbox must still be open and receiving broadcasts.
	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 2}}
	msg, ok := <-outNew
	if !ok {
		t.Fatalf("stale leave closed the live outbox")
	}
	if got := protocol.EncodeServer(msg); got != "ESTADO_JUECES:[2-A]" {
		t.Fatalf("after reconnect claim: got %q", got)
	}
}

func TestCombat_QuorumEnablesScoringExactlyOnce(t *testing.T) {
	c := newTestCombat(t, nil)
	outA := join(t, c, "A")
	outB := join(t, c, "B")
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	// Any connected device may raise an incident, seated or not.
	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "A"}}
	if _, ok := recvMsg(t, outA, time.Second).(protocol.IncidentAck); !ok {
		t.Fatalf("sender should get INCIDENCIA_OK")
	}
	recvNoMsg(t, outB, 100*time.Millisecond) // below quorum: no broadcast

	c.Inbox() <- FromDevice{Device: "B", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "B"}}
	_ = recvMsg(t, outB, time.Second) // INCIDENCIA_OK to B
	if _, ok := recvMsg(t, outA, time.Second).(protocol.EnableScoring); !ok {
		t.Fatalf("quorum crossing should broadcast HABILITAR_PUNTOS")
	}
	if _, ok := recvMsg(t, outB, time.Second).(protocol.EnableScoring); !ok {
		t.Fatalf("broadcast must include every device")
	}

	// Further incidents stay silent apart from the targeted ack.
	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "A"}}
	if _, ok := recvMsg(t, outA, time.Second).(protocol.IncidentAck); !ok {
		t.Fatalf("sender should get INCIDENCIA_OK")
	}
	recvNoMsg(t, outA, 100*time.Millisecond)
	recvNoMsg(t, outB, 100*time.Millisecond)
}

func TestCombat_ScoreBeforeQuorumRejectedToSender(t *testing.T) {
	c := newTestCombat(t, newFakeSink())
	out := join(t, c, "A")
	_ = recvMsg(t, out, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{
		Type: judging.CmdSubmitScore, Device: "A", Points: 2, Color: judging.ColorBlue,
	}}
	if _, ok := recvMsg(t, out, time.Second).(protocol.ScoringDisabled); !ok {
		t.Fatalf("score before quorum should be rejected with PUNTOS_DESHABILITADOS")
	}
}

func TestCombat_AcceptedScoresReachSinkExceptNoScore(t *testing.T) {
	sink := newFakeSink()
	c := newTestCombat(t, sink)
	out := join(t, c, "A")
	_ = recvMsg(t, out, time.Second)

	for range 2 {
		c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "A"}}
	}

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{
		Type: judging.CmdSubmitScore, Device: "A", Points: 3, Color: judging.ColorRed,
	}}

	select {
	case call := <-sink.calls:
		want := capturedScore{CombatID: "c1", Color: "ROJO", Points: 3}
		if call != want {
			t.Fatalf("want sink call %+v, got %+v", want, call)
		}
	case <-time.After(time.Second):
		t.Fatalf("accepted score never reached the sink")
	}

	// The no-score sentinel is gated the same way but never persisted.
	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{
		Type: judging.CmdSubmitScore, Device: "A", Points: judging.NoScore, Color: judging.ColorRed,
	}}
	select {
	case call := <-sink.calls:
		t.Fatalf("no-score submission must not reach the sink, got %+v", call)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCombat_ResetSemantics(t *testing.T) {
	c := newTestCombat(t, nil)
	out := join(t, c, "A")
	_ = recvMsg(t, out, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 1}}
	_ = recvMsg(t, out, time.Second)
	for range 2 {
		c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "A"}}
	}
	_ = recvMsg(t, out, time.Second) // ack
	_ = recvMsg(t, out, time.Second) // ack or enable
	_ = recvMsg(t, out, time.Second) // remaining enable/ack

	// Visual reset first: gate and seats must survive.
	c.Inbox() <- FromDevice{Cmd: judging.Command{Type: judging.CmdResetScores}}
	if _, ok := recvMsg(t, out, time.Second).(protocol.ScoresReset); !ok {
		t.Fatalf("want RESET_PUNTOS broadcast")
	}
	view := recvView(t, c)
	if !view.ScoringEnabled || view.Seats[0].Device != "A" || view.Incidents != 2 {
		t.Fatalf("visual reset must not touch gate, seats or counter: %+v", view)
	}

	// Full reset re-locks and clears the seat map.
	c.Inbox() <- FromDevice{Cmd: judging.Command{Type: judging.CmdResetFull}}
	if _, ok := recvMsg(t, out, time.Second).(protocol.FullReset); !ok {
		t.Fatalf("want RESET_COMPLETO broadcast")
	}
	view = recvView(t, c)
	if view.ScoringEnabled || view.Incidents != 0 {
		t.Fatalf("full reset must clear gate and counter: %+v", view)
	}
	for _, seat := range view.Seats {
		if seat.Device != "" {
			t.Fatalf("full reset must empty the seat map: %+v", view.Seats)
		}
	}
}

func TestCombat_DropSlowClient(t *testing.T) {
	c := newTestCombat(t, nil)

	slow := make(chan protocol.ServerMessage, 1)
	c.Inbox() <- Join{Device: "slow", Outbox: slow} // join snapshot fills the buffer

	out := join(t, c, "B")
	_ = recvMsg(t, out, time.Second)

	c.Inbox() <- FromDevice{Device: "B", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "B", Seat: 1}}
	_ = recvMsg(t, out, time.Second)

	view := recvView(t, c)
	if view.NumClients != 1 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

// Scenario: A claims 1, B loses the race for 1 and takes 2, two incidents
// unlock scoring, A scores, full reset puts everything back.
func TestCombat_EndToEnd(t *testing.T) {
	sink := newFakeSink()
	c := newTestCombat(t, sink)

	outA := join(t, c, "A")
	outB := join(t, c, "B")
	_ = recvMsg(t, outA, time.Second)
	_ = recvMsg(t, outB, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "A", Seat: 1}}
	if got := protocol.EncodeServer(recvMsg(t, outA, time.Second)); got != "ESTADO_JUECES:[1-A]" {
		t.Fatalf("step 1: got %q", got)
	}
	_ = recvMsg(t, outB, time.Second)

	c.Inbox() <- FromDevice{Device: "B", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "B", Seat: 1}}
	if _, ok := recvMsg(t, outB, time.Second).(protocol.JudgeOccupied); !ok {
		t.Fatalf("step 2: B should get JUEZ_OCUPADO")
	}
	recvNoMsg(t, outA, 100*time.Millisecond) // rejection is not broadcast

	c.Inbox() <- FromDevice{Device: "B", Cmd: judging.Command{Type: judging.CmdClaimSeat, Device: "B", Seat: 2}}
	if got := protocol.EncodeServer(recvMsg(t, outB, time.Second)); got != "ESTADO_JUECES:[1-A,2-B]" {
		t.Fatalf("step 3: got %q", got)
	}
	_ = recvMsg(t, outA, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "A"}}
	_ = recvMsg(t, outA, time.Second) // ack
	c.Inbox() <- FromDevice{Device: "B", Cmd: judging.Command{Type: judging.CmdRecordIncident, Device: "B"}}
	_ = recvMsg(t, outB, time.Second) // ack
	if got := protocol.EncodeServer(recvMsg(t, outA, time.Second)); got != "HABILITAR_PUNTOS" {
		t.Fatalf("step 4: got %q", got)
	}
	_ = recvMsg(t, outB, time.Second)

	c.Inbox() <- FromDevice{Device: "A", Cmd: judging.Command{
		Type: judging.CmdSubmitScore, Device: "A", Points: 3, Color: judging.ColorRed,
	}}
	select {
	case call := <-sink.calls:
		if call.Points != 3 || call.Color != "ROJO" {
			t.Fatalf("step 5: got sink call %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatalf("step 5: score never reached the sink")
	}

	c.Inbox() <- FromDevice{Cmd: judging.Command{Type: judging.CmdResetFull}}
	if got := protocol.EncodeServer(recvMsg(t, outA, time.Second)); got != "RESET_COMPLETO" {
		t.Fatalf("step 6: got %q", got)
	}
	_ = recvMsg(t, outB, time.Second)

	view := recvView(t, c)
	if view.ScoringEnabled || view.Incidents != 0 {
		t.Fatalf("step 6: gate not re-locked: %+v", view)
	}
	for _, seat := range view.Seats {
		if seat.Device != "" {
			t.Fatalf("step 6: seat map not empty: %+v", view.Seats)
		}
	}
}
