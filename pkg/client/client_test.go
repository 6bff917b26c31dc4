package client

import (
	"testing"

	"github.com/petotech/judge-backend/pkg/protocol"
)

func newLocalClient(device string) *Client {
	return &Client{device: device, occupied: map[int]string{}}
}

func TestClaimOnFreeSeatMarksAndRevertClears(t *testing.T) {
	c := newLocalClient("A")

	c.mu.Lock()
	c.markClaim(1)
	c.mu.Unlock()

	if c.Seat() != 1 {
		t.Fatalf("want seat 1 after claim, got %d", c.Seat())
	}
	if got := c.OccupiedSeats()[1]; got != "A" {
		t.Fatalf("want seat 1 marked for A, got %q", got)
	}

	c.apply(protocol.InvalidPosition{})

	if c.Seat() != 0 {
		t.Fatalf("rejection must clear the claimed seat, got %d", c.Seat())
	}
	if got, ok := c.OccupiedSeats()[1]; ok {
		t.Fatalf("rejection must free the optimistic mark, got %q", got)
	}
}

func TestClaimOnTakenSeatKeepsOccupant(t *testing.T) {
	c := newLocalClient("A")
	c.apply(protocol.JudgeState{Seats: []protocol.SeatAssignment{{Seat: 1, Device: "B"}}})

	c.mu.Lock()
	c.markClaim(1)
	c.mu.Unlock()

	// The snapshot occupant stays visible while the claim is in flight.
	if got := c.OccupiedSeats()[1]; got != "B" {
		t.Fatalf("claim must not overwrite a taken seat, got %q", got)
	}

	c.apply(protocol.JudgeOccupied{})

	if c.Seat() != 0 {
		t.Fatalf("rejection must clear the claimed seat, got %d", c.Seat())
	}
	if got := c.OccupiedSeats()[1]; got != "B" {
		t.Fatalf("rejection must leave the real occupant in place, got %q", got)
	}
}

func TestSnapshotOverridesOptimisticClaim(t *testing.T) {
	c := newLocalClient("A")

	c.mu.Lock()
	c.markClaim(2)
	c.mu.Unlock()

	// A snapshot that shows someone else on the seat wins.
	c.apply(protocol.JudgeState{Seats: []protocol.SeatAssignment{{Seat: 2, Device: "B"}}})

	if c.Seat() != 0 {
		t.Fatalf("snapshot without us must clear the seat, got %d", c.Seat())
	}
	if got := c.OccupiedSeats()[2]; got != "B" {
		t.Fatalf("snapshot occupant must win, got %q", got)
	}

	// A snapshot that confirms us keeps the seat.
	c.mu.Lock()
	c.markClaim(1)
	c.mu.Unlock()
	c.apply(protocol.JudgeState{Seats: []protocol.SeatAssignment{{Seat: 1, Device: "A"}}})
	if c.Seat() != 1 {
		t.Fatalf("confirming snapshot must keep the seat, got %d", c.Seat())
	}
}
