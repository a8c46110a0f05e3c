package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	ptable "github.com/jedib0t/go-pretty/v6/table"
)

type RoomInfo struct {
	RoomID   string
	RoomLink string
	Copied   bool
}

func (r RoomInfo) View() string {
	if Plain {
		return fmt.Sprintf("Room created\nRoom ID:   %s\nRoom Link: %s", r.RoomID, r.RoomLink)
	}
	content := fmt.Sprintf("%s Live room created!\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconLive,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)
	if r.Copied {
		content += "\n\n" + MutedStyle.Render("Room ID copied to clipboard")
	}
	return RoomBoxStyle.Render(content)
}

// SessionSummary is printed when a session ends.
type SessionSummary struct {
	RoomID     string
	Role       string
	State      string
	Connection string
	Sent       int
	Received   int
	Applied    int
	Duration   time.Duration
}

func (s SessionSummary) rows() [][]string {
	return [][]string{
		{"Room", s.RoomID},
		{"Role", s.Role},
		{"Negotiation", s.State},
		{"Connection", s.Connection},
		{"Candidates sent", fmt.Sprintf("%d", s.Sent)},
		{"Candidates received", fmt.Sprintf("%d", s.Received)},
		{"Candidates applied", fmt.Sprintf("%d", s.Applied)},
		{"Duration", FormatDuration(s.Duration)},
	}
}

func SessionSummaryView(s SessionSummary) string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(s.rows()...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return tbl.Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}

// RoomStatus is what inspect shows for one room.
type RoomStatus struct {
	ID               string
	Exists           bool
	HasOffer         bool
	HasAnswer        bool
	CallerCandidates int
	CalleeCandidates int
	Participants     []string
}

// RoomStatusView renders a room with go-pretty, which copes with plain
// output better than the lipgloss tables.
func RoomStatusView(st RoomStatus) string {
	t := ptable.NewWriter()
	t.SetTitle("Room " + st.ID)
	t.AppendHeader(ptable.Row{"Slot", "Value"})
	if !st.Exists {
		t.AppendRow(ptable.Row{"status", "not found"})
		return t.Render()
	}
	participants := "none"
	if len(st.Participants) > 0 {
		participants = strings.Join(st.Participants, "\n")
	}
	t.AppendRows([]ptable.Row{
		{"offer", yesNo(st.HasOffer)},
		{"answer", yesNo(st.HasAnswer)},
		{"caller candidates", st.CallerCandidates},
		{"callee candidates", st.CalleeCandidates},
		{"participants", participants},
	})
	if Plain {
		t.SetStyle(ptable.StyleDefault)
	} else {
		t.SetStyle(ptable.StyleRounded)
	}
	return t.Render()
}

func yesNo(b bool) string {
	if b {
		return "present"
	}
	return "missing"
}

// FormatDuration prints durations the way the status line shows them.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
