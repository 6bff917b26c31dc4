// Package hub owns the combat-id to combat-actor map. One hub per server
// process; combats are fully independent of each other, so the hub is only a
// lookup point and never serializes traffic between them.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/petotech/judge-backend/internal/combat"
	"github.com/petotech/judge-backend/internal/judging"
)

type HubMsg interface{ isHubMsg() }

type GetCombat struct {
	ID    string
	Reply chan *combat.Combat
}

// EnsureCombat returns the existing combat for ID or starts a new one.
type EnsureCombat struct {
	ID    string
	Reply chan *combat.Combat
}

type RemoveCombat struct {
	ID string
}

type ShutdownHub struct{}

func (GetCombat) isHubMsg()    {}
func (EnsureCombat) isHubMsg() {}
func (RemoveCombat) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	combats map[string]*combat.Combat
	rules   judging.Rules
	sink    combat.ScoreSink
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, rules judging.Rules, sink combat.ScoreSink, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		combats: make(map[string]*combat.Combat),
		rules:   rules,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is a convenience wrapper around EnsureCombat.
func (h *Hub) Ensure(id string) *combat.Combat {
	reply := make(chan *combat.Combat, 1)
	h.inbox <- EnsureCombat{ID: id, Reply: reply}
	return <-reply
}

// Get returns the combat for id, or nil.
func (h *Hub) Get(id string) *combat.Combat {
	reply := make(chan *combat.Combat, 1)
	h.inbox <- GetCombat{ID: id, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetCombat:
				msg.Reply <- h.combats[msg.ID] // may be nil

			case EnsureCombat:
				if c := h.combats[msg.ID]; c != nil {
					msg.Reply <- c
					break
				}
				c := combat.New(h.ctx, msg.ID, h.rules, h.sink, h.logger)
				h.combats[msg.ID] = c
				h.logger.Info("combat started", zap.String("combat_id", msg.ID))
				msg.Reply <- c

			case RemoveCombat:
				if c := h.combats[msg.ID]; c != nil {
					c.Inbox() <- combat.Shutdown{}
					delete(h.combats, msg.ID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, c := range h.combats {
		c.Inbox() <- combat.Shutdown{}
	}
	clear(h.combats)
	h.cancel()
}
