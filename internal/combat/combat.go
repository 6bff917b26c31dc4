// Package combat runs one actor goroutine per combat. The actor owns the
// seat map and the incident gate, applies commands through the judging
// state machine, and fans resulting events out to every registered device.
// All mutation goes through the inbox, so two simultaneous claims for the
// same seat are decided one after the other by a single goroutine.
package combat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/petotech/judge-backend/internal/judging"
	"github.com/petotech/judge-backend/pkg/protocol"
)

// ScoreSink receives accepted score submissions for aggregation. The
// no-score sentinel is filtered out before the sink is called.
type ScoreSink interface {
	RecordScore(ctx context.Context, combatID string, color string, points int) error
}

type Msg interface{ isCombatMsg() }

// Join registers a device's outbox. The current seat snapshot is sent to it
// immediately so the device confirms state from the authoritative source.
type Join struct {
	Device string
	Outbox chan protocol.ServerMessage
}

// Leave removes a device's connection and releases its seat, if any. Outbox
// identifies which connection is leaving: a Leave whose outbox is no longer
// the registered one is ignored, so the deferred cleanup of a dead
// connection cannot tear down a device that already reconnected.
type Leave struct {
	Device string
	Outbox chan protocol.ServerMessage
}

// FromDevice carries one decoded wire command from a device. Rejections are
// delivered to that device's outbox only; successful state changes are
// broadcast to every device, sender included.
type FromDevice struct {
	Device string
	Cmd    judging.Command
}

// GetView reflects internal state without data races; used by tests and the
// HTTP status surface.
type GetView struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isCombatMsg()       {}
func (Leave) isCombatMsg()      {}
func (FromDevice) isCombatMsg() {}
func (GetView) isCombatMsg()    {}
func (Shutdown) isCombatMsg()   {}

type View struct {
	Seats          []judging.Seat
	Incidents      int
	ScoringEnabled bool
	NumClients     int
}

type Combat struct {
	id      string
	inbox   chan Msg
	state   judging.State
	clients map[string]chan protocol.ServerMessage
	sink    ScoreSink
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, id string, rules judging.Rules, sink ScoreSink, logger *zap.Logger) *Combat {
	ctx, cancel := context.WithCancel(parent)

	c := &Combat{
		id:      id,
		inbox:   make(chan Msg, 64),
		state:   judging.NewState(rules),
		clients: make(map[string]chan protocol.ServerMessage),
		sink:    sink,
		logger:  logger.With(zap.String("combat_id", id)),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.loop()
	return c
}

// Inbox exposes the actor's mailbox to the ws layer and tests.
func (c *Combat) Inbox() chan<- Msg { return c.inbox }

func (c *Combat) ID() string { return c.id }

func (c *Combat) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Join:
				if old, ok := c.clients[msg.Device]; ok {
					// Reconnect: displace the dead connection's outbox so
					// its writer goroutine exits. The seat stays claimed.
					close(old)
					c.logger.Info("device reconnected", zap.String("device", msg.Device))
				}
				c.clients[msg.Device] = msg.Outbox
				c.send(msg.Device, c.snapshotMsg())
				c.logger.Info("device joined", zap.String("device", msg.Device))

			case Leave:
				ch, ok := c.clients[msg.Device]
				if !ok || ch != msg.Outbox {
					// Stale leave from a connection that was already
					// replaced or dropped.
					break
				}
				close(ch)
				delete(c.clients, msg.Device)
				// A vanished device must not keep its seat.
				cmd := judging.Command{Type: judging.CmdReleaseSeat, Device: msg.Device}
				events, newState, err := judging.Apply(c.state, cmd)
				if err == nil {
					c.state = newState
					c.dispatch(msg.Device, events)
				}
				c.logger.Info("device left", zap.String("device", msg.Device))

			case FromDevice:
				events, newState, err := judging.Apply(c.state, msg.Cmd)
				if err != nil {
					c.reject(msg.Device, msg.Cmd, err)
					break
				}
				c.state = newState
				c.dispatch(msg.Device, events)

			case GetView:
				msg.Reply <- View{
					Seats:          judging.Snapshot(c.state),
					Incidents:      c.state.Incidents,
					ScoringEnabled: c.state.ScoringEnabled,
					NumClients:     len(c.clients),
				}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

// dispatch turns state-machine events into targeted or broadcast wire
// messages, preserving event order per connection.
func (c *Combat) dispatch(device string, events []judging.Event) {
	for _, event := range events {
		switch event.Type {
		case judging.EvtSeatsChanged:
			c.broadcast(c.snapshotMsg())

		case judging.EvtIncidentRecorded:
			c.send(device, protocol.IncidentAck{})
			c.logger.Info("incident recorded",
				zap.String("device", event.Device),
				zap.String("kind", event.Kind),
				zap.Int("count", c.state.Incidents))

		case judging.EvtScoringEnabled:
			c.broadcast(protocol.EnableScoring{})
			c.logger.Info("scoring enabled", zap.Int("incidents", c.state.Incidents))

		case judging.EvtScoreAccepted:
			c.forwardScore(event)

		case judging.EvtFullReset:
			c.broadcast(protocol.FullReset{})
			c.logger.Info("full reset")

		case judging.EvtScoresReset:
			c.broadcast(protocol.ScoresReset{})
			c.logger.Info("scores reset")
		}
	}
}

// reject reports a failed command to the requesting device only.
func (c *Combat) reject(device string, cmd judging.Command, err error) {
	var reply protocol.ServerMessage
	switch {
	case errors.Is(err, judging.ErrInvalidSeat):
		reply = protocol.InvalidPosition{}
	case errors.Is(err, judging.ErrSeatOccupied):
		reply = protocol.JudgeOccupied{}
	case errors.Is(err, judging.ErrScoringDisabled):
		reply = protocol.ScoringDisabled{}
	case cmd.Type == judging.CmdRecordIncident:
		reply = protocol.IncidentErr{}
	default:
		c.logger.Warn("command rejected without wire mapping",
			zap.String("device", device),
			zap.String("cmd", string(cmd.Type)),
			zap.Error(err))
		return
	}
	c.send(device, reply)
}

// forwardScore hands an accepted score to the sink off the actor goroutine
// so storage latency never stalls seat coordination.
func (c *Combat) forwardScore(event judging.Event) {
	c.logger.Info("score accepted",
		zap.String("device", event.Device),
		zap.Int("seat", event.Seat),
		zap.Int("points", event.Points),
		zap.String("color", string(event.Color)))

	if c.sink == nil || event.Points == judging.NoScore {
		return
	}
	go func() {
		if err := c.sink.RecordScore(c.ctx, c.id, string(event.Color), event.Points); err != nil {
			c.logger.Error("score sink failed", zap.Error(err))
		}
	}()
}

func (c *Combat) snapshotMsg() protocol.JudgeState {
	var seats []protocol.SeatAssignment
	for _, seat := range judging.Snapshot(c.state) {
		if seat.Device == "" {
			continue
		}
		seats = append(seats, protocol.SeatAssignment{Seat: seat.Number, Device: seat.Device})
	}
	return protocol.JudgeState{Seats: seats}
}

func (c *Combat) send(device string, msg protocol.ServerMessage) {
	ch, ok := c.clients[device]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		// Outbox full: the device is too slow, drop it.
		close(ch)
		delete(c.clients, device)
		c.logger.Warn("dropped slow device", zap.String("device", device))
	}
}

func (c *Combat) broadcast(msg protocol.ServerMessage) {
	for device, ch := range c.clients {
		select {
		case ch <- msg:
		default:
			close(ch)
			delete(c.clients, device)
			c.logger.Warn("dropped slow device", zap.String("device", device))
		}
	}
}

func (c *Combat) shutdown() {
	for device, ch := range c.clients {
		close(ch)
		delete(c.clients, device)
	}
	c.cancel()
}
