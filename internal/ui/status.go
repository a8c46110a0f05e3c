package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Status is a full snapshot of what the live view shows.
type Status struct {
	Negotiation string
	Connection  string
	Sent        int
	Received    int
	Applied     int
	Tracks      []string
	LastError   string
}

type statusMsg Status

type tickMsg time.Time

// StatusUI renders a live session until the user leaves or Stop is
// called. Only the latest status is kept; intermediate ones may be
// skipped.
type StatusUI struct {
	program *tea.Program
	model   *statusModel
	wg      sync.WaitGroup

	mu      sync.Mutex
	latest  Status
	last    Status
	pending chan struct{}

	leave     chan struct{}
	leaveOnce sync.Once
}

type statusModel struct {
	ui       *StatusUI
	title    string
	started  time.Time
	spinner  spinner.Model
	status   Status
	quitting bool
}

func NewStatusUI(title string) *StatusUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	u := &StatusUI{
		pending: make(chan struct{}, 1),
		leave:   make(chan struct{}),
	}
	u.model = &statusModel{ui: u, title: title, started: time.Now(), spinner: s}
	return u
}

func (u *StatusUI) Start() {
	if Plain {
		fmt.Println(u.model.title)
		return
	}
	u.program = tea.NewProgram(u.model)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if _, err := u.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
		u.requestLeave()
	}()
}

// Set replaces the shown status.
func (u *StatusUI) Set(s Status) {
	u.mu.Lock()
	u.latest = s
	prev := u.last
	u.last = s
	u.mu.Unlock()

	if Plain {
		if line := plainDiff(prev, s); line != "" {
			fmt.Println(line)
		}
		return
	}
	select {
	case u.pending <- struct{}{}:
	default:
	}
}

// Leave is closed once the user asked to quit.
func (u *StatusUI) Leave() <-chan struct{} {
	return u.leave
}

func (u *StatusUI) requestLeave() {
	u.leaveOnce.Do(func() { close(u.leave) })
}

func (u *StatusUI) Stop() {
	if u.program != nil {
		u.program.Quit()
	}
	u.wg.Wait()
}

func (u *StatusUI) current() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.latest
}

func plainDiff(prev, cur Status) string {
	var parts []string
	if cur.Negotiation != prev.Negotiation {
		parts = append(parts, "negotiation="+cur.Negotiation)
	}
	if cur.Connection != prev.Connection {
		parts = append(parts, "connection="+cur.Connection)
	}
	if len(cur.Tracks) != len(prev.Tracks) {
		parts = append(parts, "tracks="+strings.Join(cur.Tracks, ","))
	}
	if cur.LastError != prev.LastError && cur.LastError != "" {
		parts = append(parts, "error="+cur.LastError)
	}
	return strings.Join(parts, " ")
}

func (m *statusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForStatus(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *statusModel) waitForStatus() tea.Cmd {
	return func() tea.Msg {
		<-m.ui.pending
		return statusMsg(m.ui.current())
	}
}

func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.ui.requestLeave()
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tickMsg:
		if !m.quitting {
			return m, tick()
		}
	case statusMsg:
		m.status = Status(msg)
		return m, m.waitForStatus()
	}
	return m, nil
}

func (m *statusModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	st := m.status

	fmt.Fprintf(&b, "\n%s  %s\n\n", LiveBadgeStyle.Render("LIVE"), TitleStyle.UnsetMarginBottom().Render(m.title))

	indicator := m.spinner.View()
	if st.Connection == "connected" {
		indicator = IconConnect
	}
	fmt.Fprintf(&b, "%s %s  %s\n", indicator, BoldStyle.Render(orDash(st.Connection)),
		MutedStyle.Render("negotiation: "+orDash(st.Negotiation)))
	fmt.Fprintf(&b, "%s candidates sent %d, received %d, applied %d\n",
		IconPeer, st.Sent, st.Received, st.Applied)

	for _, tr := range st.Tracks {
		fmt.Fprintf(&b, "%s %s\n", IconWatch, tr)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "%s %s\n", IconWarning, WarningStyle.Render(st.LastError))
	}
	fmt.Fprintf(&b, "\n%s", MutedStyle.Render(fmt.Sprintf("%s elapsed, press q to leave", FormatDuration(time.Since(m.started)))))
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
