package bubbletea

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fwojciec/paystream"
	"github.com/mattn/go-runewidth"
)

var _ tea.Model = Model{}

const recipientWidth = 16

// Model is the Bubble Tea model for the pay-per-view player.
type Model struct {
	// Progress renders the playback bar. Exported for test access.
	Progress progress.Model
	// Spinner animates while payments stream. Exported for test access.
	Spinner spinner.Model
	// Help renders the key bindings. Exported for test access.
	Help help.Model

	ctrl   paystream.Controller
	plan   PlanFunc
	video  Video
	styles Styles
	keys   KeyMap

	state    paystream.State
	playing  bool
	starting bool
	elapsed  time.Duration
	err      error
	width    int

	stateCh     chan paystream.State
	done        chan struct{}
	unsubscribe func()
}

// New creates a player for video that pays through ctrl. plan is called each
// time playback starts.
func New(ctrl paystream.Controller, plan PlanFunc, video Video, theme paystream.Theme) Model {
	styles := NewStyles(theme)
	m := Model{
		Progress: progress.New(progress.WithSolidFill(styles.ProgressColor), progress.WithoutPercentage()),
		Spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Streaming)),
		Help:     help.New(),
		ctrl:     ctrl,
		plan:     plan,
		video:    video,
		styles:   styles,
		keys:     DefaultKeyMap(),
		state:    ctrl.State(),
		stateCh:  make(chan paystream.State, 64),
		done:     make(chan struct{}),
	}
	stateCh, done := m.stateCh, m.done
	m.unsubscribe = ctrl.OnStateChange(func(s paystream.State) {
		select {
		case stateCh <- s:
		case <-done:
		}
	})
	return m
}

// Close stops listening to the controller. It is safe to call more than once.
func (m Model) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
		m.unsubscribe()
	}
}

// Playing returns whether the video is playing.
func (m Model) Playing() bool { return m.playing }

// Elapsed returns the playback position.
func (m Model) Elapsed() time.Duration { return m.elapsed }

// Err returns the last error, if any.
func (m Model) Err() error { return m.err }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return listenForState(m.stateCh, m.done)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.Progress.Width = max(msg.Width-16, 10)
		m.Help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m = m.applyState(msg.State)
		return m, listenForState(m.stateCh, m.done)

	case StartedMsg:
		return m.handleStarted(msg)

	case TickMsg:
		return m.handleTick()

	case spinner.TickMsg:
		if !m.playing {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render(m.video.Title))
	b.WriteString("  ")
	b.WriteString(m.statusBadge())
	b.WriteString("\n\n")

	b.WriteString(m.Progress.ViewAs(m.fraction()))
	b.WriteString(" ")
	b.WriteString(m.styles.Muted.Render(clock(m.elapsed) + " / " + clock(m.video.Duration)))
	b.WriteString("\n\n")

	b.WriteString(m.paymentLine())
	b.WriteString("\n")

	if msg := m.errorMessage(); msg != "" {
		b.WriteString(m.styles.Error.Render("Error: " + msg))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.Help.View(m.keys))
	return b.String()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.ctrl.Stop()
		m.playing = false
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Stop):
		m.ctrl.Stop()
		m.playing = false
		m.elapsed = 0
		return m, nil

	case key.Matches(msg, m.keys.Play):
		if m.playing {
			m.ctrl.Stop()
			m.playing = false
			return m, nil
		}
		if m.starting {
			return m, nil
		}
		if m.ended() {
			m.elapsed = 0
		}
		cfg, err := m.plan()
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.starting = true
		return m, startStream(m.ctrl, cfg)
	}
	return m, nil
}

func (m Model) handleStarted(msg StartedMsg) (tea.Model, tea.Cmd) {
	m.starting = false
	if msg.Err != nil {
		if !errors.Is(msg.Err, paystream.ErrStreamStopped) {
			m.err = msg.Err
		}
		return m, nil
	}
	// The first transfer may already have spent the whole budget.
	m.state = m.ctrl.State()
	if !m.state.Streaming {
		return m, nil
	}
	m.playing = true
	return m, tea.Batch(tick(), m.Spinner.Tick)
}

func (m Model) handleTick() (tea.Model, tea.Cmd) {
	if !m.playing {
		return m, nil
	}
	m.elapsed += time.Second
	if m.ended() {
		m.elapsed = m.video.Duration
		m.playing = false
		m.ctrl.Stop()
		return m, nil
	}
	return m, tick()
}

// applyState records a snapshot. Playback pauses when the controller stops
// paying on its own, e.g. on budget exhaustion or a failed transfer.
func (m Model) applyState(s paystream.State) Model {
	m.state = s
	if m.playing && !m.starting && !s.Streaming {
		m.playing = false
	}
	return m
}

func (m Model) ended() bool {
	return m.video.Duration > 0 && m.elapsed >= m.video.Duration
}

func (m Model) fraction() float64 {
	if m.video.Duration <= 0 {
		return 0
	}
	return min(float64(m.elapsed)/float64(m.video.Duration), 1)
}

func (m Model) statusBadge() string {
	switch {
	case m.starting:
		return m.styles.Muted.Render("Starting...")
	case m.playing:
		return m.Spinner.View() + m.styles.Streaming.Render(" Streaming")
	case m.ended():
		return m.styles.Success.Render("Ended")
	case m.state.Phase == paystream.PhaseStopped && m.state.LastError == "" && m.state.Remaining() == "0":
		return m.styles.Success.Render("Budget spent")
	default:
		return m.styles.Paused.Render("Paused")
	}
}

func (m Model) paymentLine() string {
	cfg := m.state.Config
	if cfg.Recipient == "" {
		return m.styles.Muted.Render("Press space to start watching")
	}
	paid := paystream.FormatAmount(cfg.Asset, m.state.TotalSent)
	line := fmt.Sprintf("Paid %s", m.styles.Accent.Render(paid))
	if cfg.ThresholdTotal != "" {
		line += fmt.Sprintf(" of %s, %s left",
			paystream.FormatAmount(cfg.Asset, cfg.ThresholdTotal),
			paystream.FormatAmount(cfg.Asset, m.state.Remaining()))
	}
	recipient := runewidth.Truncate(cfg.Recipient, recipientWidth, "…")
	return line + m.styles.Muted.Render(" to "+recipient)
}

func (m Model) errorMessage() string {
	if m.err != nil {
		return m.err.Error()
	}
	return m.state.LastError
}

func clock(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return TickMsg{} })
}

// startStream starts the controller off the UI goroutine; Start blocks for
// the first transfer.
func startStream(ctrl paystream.Controller, cfg paystream.StreamConfig) tea.Cmd {
	return func() tea.Msg {
		return StartedMsg{Err: ctrl.Start(context.Background(), cfg)}
	}
}

// listenForState waits for the next controller snapshot. It yields nil once
// the model is closed.
func listenForState(ch <-chan paystream.State, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-ch:
			return StateMsg{State: s}
		case <-done:
			return nil
		}
	}
}
