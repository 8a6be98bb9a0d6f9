// Package bubbletea provides the Bubble Tea video player that pays for
// playback through a stream controller.
package bubbletea

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/paystream"
)

// PlanFunc builds the stream config at the moment playback starts, so it can
// use the latest ledger balance.
type PlanFunc func() (paystream.StreamConfig, error)

// Video describes what is being watched.
type Video struct {
	Title    string
	Duration time.Duration
}

// Run creates and runs the Bubble Tea program. It blocks until the program
// exits. The context is used for graceful shutdown: when cancelled, the
// program quits.
func Run(ctx context.Context, m Model) error {
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

// StateMsg delivers a controller state snapshot to the model.
type StateMsg struct {
	State paystream.State
}

// StartedMsg reports the outcome of starting a stream.
type StartedMsg struct {
	Err error
}

// TickMsg advances playback by one second.
type TickMsg struct{}
