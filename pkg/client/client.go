// Package client is the device-side half of the judge-coordination
// protocol: it dials the server, sends claim/incident/score commands, and
// delivers every inbound event on a single ordered channel so UI code can
// consume them from its own event loop without touching the network
// goroutine.
//
// Seat claims are optimistic: the claimed seat is marked locally right
// away, and reverted if the server answers JUEZ_OCUPADO or
// POSICION_INVALIDA. The authoritative state is always the last
// ESTADO_JUECES snapshot.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/petotech/judge-backend/pkg/protocol"
)

const writeTimeout = 3 * time.Second

type Client struct {
	conn   *websocket.Conn
	device string
	events chan protocol.ServerMessage
	cancel context.CancelFunc

	mu             sync.Mutex
	occupied       map[int]string // seat -> device, last authoritative snapshot
	seat           int            // seat we hold or optimistically claimed, 0 if none
	scoringEnabled bool
}

// Dial connects to a server's /ws endpoint. The token comes from /login;
// device must be stable per install.
func Dial(ctx context.Context, baseURL, token, device string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", token)
	q.Set("device", device)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		device:   device,
		events:   make(chan protocol.ServerMessage, 16),
		cancel:   cancel,
		occupied: map[int]string{},
	}
	go c.readLoop(runCtx)
	return c, nil
}

// Events delivers inbound server messages in arrival order. The channel is
// closed when the connection ends; a closed channel means the device must
// reconnect before sending anything else.
func (c *Client) Events() <-chan protocol.ServerMessage { return c.events }

// ClaimSeat requests a judge seat and marks it locally until the server
// confirms or rejects.
func (c *Client) ClaimSeat(ctx context.Context, seat int) error {
	c.mu.Lock()
	c.markClaim(seat)
	c.mu.Unlock()
	return c.send(ctx, protocol.SelectJudge{Device: c.device, Seat: seat})
}

// markClaim records an optimistic claim. A seat the snapshot already shows
// as taken keeps its occupant; the server will answer JUEZ_OCUPADO and the
// claim is dropped without disturbing the map. Callers hold c.mu.
func (c *Client) markClaim(seat int) {
	c.seat = seat
	if c.occupied[seat] == "" {
		c.occupied[seat] = c.device
	}
}

// RaiseIncident flags a scoring-relevant occurrence. Kind may be empty.
func (c *Client) RaiseIncident(ctx context.Context, kind string) error {
	return c.send(ctx, protocol.Incident{Kind: kind})
}

// SubmitScore sends a point value for a color; use protocol.NoScore for a
// "saw nothing" submission.
func (c *Client) SubmitScore(ctx context.Context, points int, color protocol.Color) error {
	return c.send(ctx, protocol.Score{Points: points, Color: color})
}

// Seat returns the seat this device holds (or optimistically claimed), 0 if
// none.
func (c *Client) Seat() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seat
}

// OccupiedSeats returns a copy of the last known seat occupancy.
func (c *Client) OccupiedSeats() map[int]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]string, len(c.occupied))
	for seat, device := range c.occupied {
		out[seat] = device
	}
	return out
}

// ScoringEnabled reports whether the server has unlocked score submission.
func (c *Client) ScoringEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scoringEnabled
}

func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) send(ctx context.Context, m protocol.ClientMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, []byte(protocol.EncodeClient(m))); err != nil {
		return fmt.Errorf("send %T: %w", m, err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := protocol.ParseServer(string(data))
		if err != nil {
			continue
		}
		c.apply(msg)

		select {
		case c.events <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// apply updates local mirrors before the event reaches the UI, so getters
// already reflect the message a consumer is reading.
func (c *Client) apply(msg protocol.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.JudgeState:
		c.occupied = make(map[int]string, len(m.Seats))
		for _, sa := range m.Seats {
			c.occupied[sa.Seat] = sa.Device
		}
		if c.seat != 0 && c.occupied[c.seat] != c.device {
			c.seat = 0
		}

	case protocol.JudgeOccupied, protocol.InvalidPosition:
		// Authoritative rejection: revert the optimistic claim.
		if c.seat != 0 && c.occupied[c.seat] == c.device {
			delete(c.occupied, c.seat)
		}
		c.seat = 0

	case protocol.EnableScoring:
		c.scoringEnabled = true

	case protocol.FullReset:
		c.occupied = map[int]string{}
		c.seat = 0
		c.scoringEnabled = false
	}
}
