package paystream

import "time"

// StreamConfig describes one metered-payment session. It is immutable for the
// lifetime of the session; a new Start replaces it wholesale.
type StreamConfig struct {
	Recipient      string        // opaque payee address
	AmountPerTick  string        // base units per tick
	Interval       time.Duration // time between ticks
	ThresholdTotal string        // hard cap on cumulative spend, base units
	Asset          string        // lowercase symbol; empty = DefaultAsset
}

// WithDefaults returns a copy of c with the asset normalized.
func (c StreamConfig) WithDefaults() StreamConfig {
	c.Asset = NormalizeAsset(c.Asset)
	return c
}

// Phase indicates where a controller is in its lifecycle.
type Phase int

const (
	PhaseIdle      Phase = iota // Never started, or the last start failed its precondition.
	PhaseStreaming              // Recurring timer armed.
	PhaseStopped                // Session ended by budget, failure, Stop or Close.
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is a read-only snapshot of a controller's session.
//
// TotalSent and LastError survive a stop so the last session can still be
// displayed; both reset on the next start.
type State struct {
	Phase     Phase
	Streaming bool
	TotalSent string // base units
	LastError string // empty when the session has not failed
	SessionID string
	Config    StreamConfig
	Transfers int // completed transfers in this session
}

// Remaining returns ThresholdTotal - TotalSent, or "0" when no session has
// been configured.
func (s State) Remaining() string {
	r, err := Sub(s.Config.ThresholdTotal, s.TotalSent)
	if err != nil {
		return "0"
	}
	return r
}
