package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Align(lipgloss.Center)

	TableWarningStyle = lipgloss.NewStyle().
				Foreground(ColorWarn)

	TableHintStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	TableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)
)

// stateOrder fixes the display order of task states from inert to terminal.
var stateOrder = []string{
	"backlog", "ready", "reserved", "claimed", "in_progress",
	"implemented", "integrated", "blocked", "conflict", "abandoned", "cancelled",
}

// truncate shortens s to at most max characters, marking the cut.
func truncate(s string, max int) string {
	if max < 10 {
		max = 10
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// TaskRow is one task line for table rendering.
type TaskRow struct {
	ID       string
	State    string
	Priority int
	Class    string
	Title    string
}

// RenderTaskTable renders a list of tasks as a bordered table.
func RenderTaskTable(title string, rows []TaskRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No matching tasks.")
	}

	body := [][]string{}
	for _, r := range rows {
		body = append(body, []string{
			r.ID,
			r.State,
			fmt.Sprintf("P%d", r.Priority),
			r.Class,
			truncate(r.Title, width-48),
		})
	}

	return table.New().
		Headers(title, "STATE", "PRI", "CLASS", "TITLE").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(body...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			switch col {
			case 0:
				style = style.Width(14).Foreground(ColorAccent)
			case 1:
				style = style.Width(13).Foreground(StateStyle(body[row][1]).GetForeground())
			case 2:
				style = style.Width(5)
			case 3:
				style = style.Width(11)
			}
			return style
		}).
		String()
}

// ReadyRow is one unlocked task for ready-queue rendering.
type ReadyRow struct {
	ID          string
	Title       string
	Priority    int
	Class       string
	ReservedFor string
	Contention  int
}

func readyNote(r ReadyRow) string {
	if r.ReservedFor != "" {
		return "reserved: " + r.ReservedFor
	}
	if r.Contention > 1 {
		return fmt.Sprintf("wanted by %d", r.Contention)
	}
	return ""
}

// RenderReadyTable renders the ready queue as a bordered table.
func RenderReadyTable(rows []ReadyRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("Nothing is ready. Inspect blocked work with: tascade task list --state blocked")
	}

	body := [][]string{}
	for _, r := range rows {
		body = append(body, []string{
			r.ID,
			fmt.Sprintf("P%d", r.Priority),
			r.Class,
			truncate(r.Title, width-56),
			readyNote(r),
		})
	}

	return table.New().
		Headers("READY", "PRI", "CLASS", "TITLE", "NOTE").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(body...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			switch col {
			case 0:
				style = style.Width(14).Foreground(ColorAccent)
			case 1:
				style = style.Width(5)
			case 2:
				style = style.Width(11)
			case 4:
				style = style.Width(20).Foreground(ColorMuted)
			}
			return style
		}).
		String()
}

// BoardMilestone is one milestone line on the status board.
type BoardMilestone struct {
	ID         string
	Title      string
	Integrated int
	Total      int
	Active     int
	Blocked    int
	Done       bool
}

// renderStateCounts formats non-zero state counts in display order.
func renderStateCounts(counts map[string]int) string {
	parts := []string{}
	for _, s := range stateOrder {
		n := counts[s]
		if n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d", RenderState(s), n))
	}
	if len(parts) == 0 {
		return RenderMuted("no tasks yet")
	}
	return strings.Join(parts, "  ")
}

// RenderBoard renders a project status board: overall state counts,
// per-milestone progress, and the head of the ready queue.
func RenderBoard(project, title string, counts map[string]int, milestones []BoardMilestone, ready []ReadyRow, latestSeq int64, width int) string {
	var sections []string

	header := fmt.Sprintf("Board: %s %s", project, title)
	sections = append(sections, TableHeaderStyle.Render(header))
	sections = append(sections, renderStateCounts(counts))
	sections = append(sections, "") // Spacer

	if len(milestones) > 0 {
		rows := [][]string{}
		for _, m := range milestones {
			progress := fmt.Sprintf("%d/%d", m.Integrated, m.Total)
			if m.Done {
				progress = IconPass + " " + progress
			}
			note := ""
			if m.Blocked > 0 {
				note = fmt.Sprintf("%d blocked", m.Blocked)
			} else if m.Active > 0 {
				note = fmt.Sprintf("%d active", m.Active)
			}
			rows = append(rows, []string{
				m.ID,
				truncate(m.Title, width-48),
				progress,
				note,
			})
		}

		t := table.New().
			Headers("MILESTONE", "TITLE", "DONE", "NOTE").
			Border(lipgloss.RoundedBorder()).
			BorderStyle(TableBorderStyle).
			Width(width).
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableHeaderStyle
				}
				style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
				switch col {
				case 0:
					style = style.Width(12).Foreground(ColorAccent)
				case 2:
					style = style.Width(9).Align(lipgloss.Right)
				case 3:
					style = style.Width(13).Foreground(ColorMuted)
				}
				return style
			})

		sections = append(sections, t.String())
		sections = append(sections, "") // Spacer
	}

	if len(ready) > 0 {
		sections = append(sections, RenderReadyTable(ready, width))
		sections = append(sections, "") // Spacer
	}

	sections = append(sections, TableHintStyle.Render(fmt.Sprintf("event log at seq %d", latestSeq)))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
