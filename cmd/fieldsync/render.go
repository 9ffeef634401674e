package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloud-shuttle/fieldsync/internal/schedule"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	cellStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).PaddingRight(2)
	editableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle      = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("245"))
)

// renderSchedule draws one engineer's day as a table of the visible properties
func renderSchedule(s *schema.Schema, engineerID string, day time.Time, tasks []schedule.TaskView) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Engineer %s, %s", engineerID, day.Format("Mon 02.01.2006"))))
	b.WriteString("\n\n")

	if len(tasks) == 0 {
		b.WriteString(dimStyle.Render("No tasks scheduled."))
		return b.String()
	}

	var columns []*schema.Property
	for _, p := range s.Properties() {
		if p.VisibleInSchedule {
			columns = append(columns, p)
		}
	}

	widths := make([]int, len(columns))
	rows := make([][]string, len(tasks))
	for i, p := range columns {
		widths[i] = lipgloss.Width(displayName(p))
	}
	for r, task := range tasks {
		rows[r] = make([]string, len(columns))
		for i, p := range columns {
			rows[r][i] = cellText(task[p.Name])
			widths[i] = max(widths[i], lipgloss.Width(rows[r][i]))
		}
	}

	header := make([]string, len(columns))
	for i, p := range columns {
		header[i] = headerStyle.Inherit(cellStyle).Width(widths[i] + 2).Render(displayName(p))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, header...))
	b.WriteString("\n")

	status := s.StatusProperty()
	for r, task := range tasks {
		cells := make([]string, len(columns))
		for i, p := range columns {
			style := cellStyle.Width(widths[i] + 2)
			if p.Name == status && isEditable(task[status]) {
				style = style.Inherit(editableStyle)
			}
			cells[i] = style.Render(rows[r][i])
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Highlighted status: the engineer may act on this task next."))
	return b.String()
}

func displayName(p *schema.Property) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

func cellText(f schedule.Field) string {
	if f.Value == nil {
		return ""
	}
	return fmt.Sprint(f.Value)
}

func isEditable(f schedule.Field) bool {
	return f.TaskIsEditable != nil && *f.TaskIsEditable
}
