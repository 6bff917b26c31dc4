// Package judging holds the pure seat-coordination and scoring-gate state
// machine for one combat. Apply is a pure function from (state, command) to
// (events, state, error); the combat actor owns serialization and fan-out.
package judging

import (
	"errors"
	"maps"
)

var ErrInvalidSeat = errors.New("seat number out of range")
var ErrSeatOccupied = errors.New("seat occupied by another device")
var ErrScoringDisabled = errors.New("scoring is not enabled")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Color string

const (
	ColorBlue Color = "AZUL"
	ColorRed  Color = "ROJO"
)

// NoScore is the point value meaning "judge saw nothing scorable".
const NoScore = -1

type Rules struct {
	SeatCount      int // valid seats are 1..SeatCount
	IncidentQuorum int // incidents needed before scoring unlocks
}

type State struct {
	Seats          map[int]string // seat number -> occupying device id
	Incidents      int
	ScoringEnabled bool
	Rules          Rules
}

func NewState(rules Rules) State {
	return State{
		Seats: map[int]string{},
		Rules: rules,
	}
}

type CommandType string

const (
	CmdClaimSeat      CommandType = "ClaimSeat"
	CmdReleaseSeat    CommandType = "ReleaseSeat"
	CmdRecordIncident CommandType = "RecordIncident"
	CmdSubmitScore    CommandType = "SubmitScore"
	CmdResetFull      CommandType = "ResetFull"
	CmdResetScores    CommandType = "ResetScores"
)

type Command struct {
	Type   CommandType
	Device string
	Seat   int
	Kind   string // incident kind, optional
	Points int
	Color  Color
}

type EventType string

const (
	EvtSeatsChanged     EventType = "SeatsChanged"
	EvtIncidentRecorded EventType = "IncidentRecorded"
	EvtScoringEnabled   EventType = "ScoringEnabled"
	EvtScoreAccepted    EventType = "ScoreAccepted"
	EvtFullReset        EventType = "FullReset"
	EvtScoresReset      EventType = "ScoresReset"
)

type Event struct {
	Type   EventType
	Device string
	Seat   int
	Kind   string
	Points int
	Color  Color
}

// Seat is one position in an ordered snapshot. Device is empty for a
// vacant seat.
type Seat struct {
	Number int
	Device string
}

// Snapshot returns every seat in seat-number order, vacant ones included.
func Snapshot(s State) []Seat {
	seats := make([]Seat, 0, s.Rules.SeatCount)
	for n := 1; n <= s.Rules.SeatCount; n++ {
		seats = append(seats, Seat{Number: n, Device: s.Seats[n]})
	}
	return seats
}

// seatOf returns the seat currently held by device, or 0.
func seatOf(s State, device string) int {
	for n, d := range s.Seats {
		if d == device {
			return n
		}
	}
	return 0
}

// Apply executes one command. The input state is never mutated; on error the
// input state is returned unchanged with no events.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdClaimSeat:
		if cmd.Seat < 1 || cmd.Seat > s.Rules.SeatCount {
			return nil, s, ErrInvalidSeat
		}
		occupant := s.Seats[cmd.Seat]
		if occupant != "" && occupant != cmd.Device {
			return nil, s, ErrSeatOccupied
		}

		newState.Seats = maps.Clone(s.Seats)
		// A device holds at most one seat; claiming a new one vacates
		// the old one in the same step.
		if prior := seatOf(s, cmd.Device); prior != 0 {
			delete(newState.Seats, prior)
		}
		newState.Seats[cmd.Seat] = cmd.Device

		events := []Event{{Type: EvtSeatsChanged, Device: cmd.Device, Seat: cmd.Seat}}
		return events, newState, nil

	case CmdReleaseSeat:
		seat := seatOf(s, cmd.Device)
		if seat == 0 {
			// Idempotent: nothing held, nothing to do.
			return nil, s, nil
		}
		newState.Seats = maps.Clone(s.Seats)
		delete(newState.Seats, seat)
		return []Event{{Type: EvtSeatsChanged, Device: cmd.Device, Seat: seat}}, newState, nil

	case CmdRecordIncident:
		newState.Incidents = s.Incidents + 1
		events := []Event{{Type: EvtIncidentRecorded, Device: cmd.Device, Kind: cmd.Kind}}
		// Flip the gate only on the upward crossing; incidents past the
		// quorum while already enabled stay silent.
		if !s.ScoringEnabled &&
			s.Incidents < s.Rules.IncidentQuorum &&
			newState.Incidents >= s.Rules.IncidentQuorum {
			newState.ScoringEnabled = true
			events = append(events, Event{Type: EvtScoringEnabled})
		}
		return events, newState, nil

	case CmdSubmitScore:
		if !s.ScoringEnabled {
			return nil, s, ErrScoringDisabled
		}
		event := Event{
			Type:   EvtScoreAccepted,
			Device: cmd.Device,
			Seat:   seatOf(s, cmd.Device),
			Points: cmd.Points,
			Color:  cmd.Color,
		}
		return []Event{event}, newState, nil

	case CmdResetFull:
		newState.Seats = map[int]string{}
		newState.Incidents = 0
		newState.ScoringEnabled = false
		return []Event{{Type: EvtFullReset}}, newState, nil

	case CmdResetScores:
		// Visual reset only: seats and the gate survive.
		return []Event{{Type: EvtScoresReset}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
