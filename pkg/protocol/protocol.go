// Package protocol implements the line-based wire protocol spoken between
// judge devices and the coordination server. One message per line,
// colon-delimited command and arguments. The format is a compatibility
// constraint with deployed clients and must not change shape.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownMessage = errors.New("unknown message")
var ErrBadArguments = errors.New("malformed message arguments")

// NoScore is the sentinel point value for a "no score" submission.
const NoScore = -1

type Color string

const (
	ColorBlue Color = "AZUL"
	ColorRed  Color = "ROJO"
)

func ParseColor(s string) (Color, bool) {
	switch Color(s) {
	case ColorBlue, ColorRed:
		return Color(s), true
	default:
		return "", false
	}
}

// ValidDeviceID reports whether a device id is safe to embed in wire
// messages. Snapshot entries are comma- and bracket-delimited, so ids are
// restricted to letters, digits, '.', '_' and '-'. A '-' is fine: the
// seat-device separator is the first dash of an entry, and decoding cuts
// there.
func ValidDeviceID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ClientMessage is a message sent from a judge device to the server.
type ClientMessage interface{ isClientMsg() }

// SelectJudge claims a judge seat for a device.
// Wire: SELECCIONAR_JUEZ:<device>,<seat>
type SelectJudge struct {
	Device string
	Seat   int
}

// Incident flags a scoring-relevant occurrence. Kind is optional.
// Wire: INCIDENCIA or INCIDENCIA:<kind>
type Incident struct {
	Kind string
}

// Score submits a point value for a color, or NoScore.
// Wire: PUNTUAR:<value|-1>,<COLOR>
type Score struct {
	Points int
	Color  Color
}

func (SelectJudge) isClientMsg() {}
func (Incident) isClientMsg()    {}
func (Score) isClientMsg()       {}

// ServerMessage is a message sent from the server to one or all devices.
type ServerMessage interface{ isServerMsg() }

// SeatAssignment is one occupied seat in a snapshot.
type SeatAssignment struct {
	Seat   int
	Device string
}

// JudgeState is the authoritative seat snapshot, occupied seats only,
// ordered by seat number.
// Wire: ESTADO_JUECES:[1-A,2-B] or ESTADO_JUECES:[]
type JudgeState struct {
	Seats []SeatAssignment
}

// JudgeOccupied rejects a claim for a seat held by another device.
type JudgeOccupied struct{}

// InvalidPosition rejects a claim for a seat outside the valid range.
type InvalidPosition struct{}

// EnableScoring unlocks score submission for the session.
type EnableScoring struct{}

// ScoringDisabled rejects a score submitted before the gate opened.
type ScoringDisabled struct{}

// IncidentAck / IncidentErr acknowledge an incident to its sender.
type IncidentAck struct{}
type IncidentErr struct{}

// FullReset clears seats, incidents and the scoring gate.
type FullReset struct{}

// ScoresReset clears score indicators only; seats and gate are untouched.
type ScoresReset struct{}

func (JudgeState) isServerMsg()      {}
func (JudgeOccupied) isServerMsg()   {}
func (InvalidPosition) isServerMsg() {}
func (EnableScoring) isServerMsg()   {}
func (ScoringDisabled) isServerMsg() {}
func (IncidentAck) isServerMsg()     {}
func (IncidentErr) isServerMsg()     {}
func (FullReset) isServerMsg()       {}
func (ScoresReset) isServerMsg()     {}

const (
	cmdSelectJudge     = "SELECCIONAR_JUEZ"
	cmdIncident        = "INCIDENCIA"
	cmdScore           = "PUNTUAR"
	cmdJudgeState      = "ESTADO_JUECES"
	cmdJudgeOccupied   = "JUEZ_OCUPADO"
	cmdInvalidPosition = "POSICION_INVALIDA"
	cmdEnableScoring   = "HABILITAR_PUNTOS"
	cmdScoringDisabled = "PUNTOS_DESHABILITADOS"
	cmdIncidentAck     = "INCIDENCIA_OK"
	cmdIncidentErr     = "INCIDENCIA_ERROR"
	cmdFullReset       = "RESET_COMPLETO"
	cmdScoresReset     = "RESET_PUNTOS"
)

// EncodeClient renders a client message as a wire line (no trailing newline).
func EncodeClient(m ClientMessage) string {
	switch msg := m.(type) {
	case SelectJudge:
		return fmt.Sprintf("%s:%s,%d", cmdSelectJudge, msg.Device, msg.Seat)
	case Incident:
		if msg.Kind == "" {
			return cmdIncident
		}
		return cmdIncident + ":" + msg.Kind
	case Score:
		return fmt.Sprintf("%s:%d,%s", cmdScore, msg.Points, msg.Color)
	default:
		panic(fmt.Sprintf("protocol: unhandled client message %T", m))
	}
}

// ParseClient decodes one inbound line from a judge device.
func ParseClient(line string) (ClientMessage, error) {
	cmd, args, hasArgs := strings.Cut(strings.TrimSpace(line), ":")

	switch cmd {
	case cmdSelectJudge:
		device, seatStr, ok := strings.Cut(args, ",")
		if !hasArgs || !ok || device == "" {
			return nil, fmt.Errorf("%w: %s needs <device>,<seat>", ErrBadArguments, cmdSelectJudge)
		}
		seat, err := strconv.Atoi(strings.TrimSpace(seatStr))
		if err != nil {
			return nil, fmt.Errorf("%w: seat %q is not a number", ErrBadArguments, seatStr)
		}
		return SelectJudge{Device: device, Seat: seat}, nil

	case cmdIncident:
		return Incident{Kind: args}, nil

	case cmdScore:
		pointsStr, colorStr, ok := strings.Cut(args, ",")
		if !hasArgs || !ok {
			return nil, fmt.Errorf("%w: %s needs <value>,<color>", ErrBadArguments, cmdScore)
		}
		points, err := strconv.Atoi(strings.TrimSpace(pointsStr))
		if err != nil {
			return nil, fmt.Errorf("%w: points %q is not a number", ErrBadArguments, pointsStr)
		}
		color, ok := ParseColor(strings.TrimSpace(colorStr))
		if !ok {
			return nil, fmt.Errorf("%w: unknown color %q", ErrBadArguments, colorStr)
		}
		return Score{Points: points, Color: color}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, cmd)
	}
}

// EncodeServer renders a server message as a wire line (no trailing newline).
func EncodeServer(m ServerMessage) string {
	switch msg := m.(type) {
	case JudgeState:
		parts := make([]string, 0, len(msg.Seats))
		for _, sa := range msg.Seats {
			parts = append(parts, fmt.Sprintf("%d-%s", sa.Seat, sa.Device))
		}
		return cmdJudgeState + ":[" + strings.Join(parts, ",") + "]"
	case JudgeOccupied:
		return cmdJudgeOccupied
	case InvalidPosition:
		return cmdInvalidPosition
	case EnableScoring:
		return cmdEnableScoring
	case ScoringDisabled:
		return cmdScoringDisabled
	case IncidentAck:
		return cmdIncidentAck
	case IncidentErr:
		return cmdIncidentErr
	case FullReset:
		return cmdFullReset
	case ScoresReset:
		return cmdScoresReset
	default:
		panic(fmt.Sprintf("protocol: unhandled server message %T", m))
	}
}

// ParseServer decodes one inbound line on the device side.
func ParseServer(line string) (ServerMessage, error) {
	cmd, args, _ := strings.Cut(strings.TrimSpace(line), ":")

	switch cmd {
	case cmdJudgeState:
		body := strings.TrimSpace(args)
		if !strings.HasPrefix(body, "[") || !strings.HasSuffix(body, "]") {
			return nil, fmt.Errorf("%w: %s needs a [...] list", ErrBadArguments, cmdJudgeState)
		}
		body = body[1 : len(body)-1]
		if body == "" {
			return JudgeState{}, nil
		}
		var seats []SeatAssignment
		for _, pair := range strings.Split(body, ",") {
			seatStr, device, ok := strings.Cut(pair, "-")
			if !ok {
				return nil, fmt.Errorf("%w: seat entry %q", ErrBadArguments, pair)
			}
			seat, err := strconv.Atoi(strings.TrimSpace(seatStr))
			if err != nil {
				return nil, fmt.Errorf("%w: seat %q is not a number", ErrBadArguments, seatStr)
			}
			seats = append(seats, SeatAssignment{Seat: seat, Device: device})
		}
		return JudgeState{Seats: seats}, nil

	case cmdJudgeOccupied:
		return JudgeOccupied{}, nil
	case cmdInvalidPosition:
		return InvalidPosition{}, nil
	case cmdEnableScoring:
		return EnableScoring{}, nil
	case cmdScoringDisabled:
		return ScoringDisabled{}, nil
	case cmdIncidentAck:
		return IncidentAck{}, nil
	case cmdIncidentErr:
		return IncidentErr{}, nil
	case cmdFullReset:
		return FullReset{}, nil
	case cmdScoresReset:
		return ScoresReset{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, cmd)
	}
}
