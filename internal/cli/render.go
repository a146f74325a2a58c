package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/arloliu/peerpair"
	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/jobs"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CCCCCC")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	borderColor  = lipgloss.Color("#444444")
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
)

// newTable returns a table with the shared header and border styling.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// userLabel prefers the username and falls back to the numeric IDs.
func userLabel(u peerpair.User) string {
	switch {
	case u.Username != "":
		return u.Username
	case u.ExternalID != 0:
		return "#" + strconv.FormatInt(u.ExternalID, 10)
	default:
		return "id:" + strconv.FormatInt(int64(u.ID), 10)
	}
}

// renderPreview prints the matches an automatic run would create.
func renderPreview(w io.Writer, p allocation.Preview) {
	name := p.Assignment.Name
	if name == "" {
		name = "assignment " + strconv.FormatInt(p.Assignment.ID, 10)
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Preview: %s (%s)", name, p.Kind)))

	headers := []string{"Grader", "Submission", "Recipients"}
	grouped := false
	for _, row := range p.Rows {
		if row.GroupID != 0 {
			grouped = true
			break
		}
	}
	if grouped {
		headers = []string{"Grader", "Group", "Submission", "Recipients"}
	}

	t := newTable(headers...)
	for _, row := range p.Rows {
		recipients := make([]string, 0, len(row.Recipients))
		for _, r := range row.Recipients {
			recipients = append(recipients, userLabel(r))
		}
		cells := []string{userLabel(row.Grader)}
		if grouped {
			cells = append(cells, strconv.FormatInt(row.GroupID, 10))
		}
		cells = append(cells, string(row.Submission), strings.Join(recipients, ", "))
		t.Row(cells...)
	}
	fmt.Fprintln(w, t.String())

	summary := fmt.Sprintf("rounds %d · pairs %d · attempts %d", p.Rounds, p.Pairs, p.Attempts)
	if p.StudyID != "" {
		summary += " · study " + p.StudyID
	}
	fmt.Fprintln(w, mutedStyle.Render(summary))
}

// renderResult prints the final state of a job.
func renderResult(w io.Writer, info jobs.Info) {
	status := okStyle.Render(string(info.Status))
	if info.Status == jobs.StatusError {
		status = errorStyle.Render(string(info.Status))
	}

	lines := []string{
		titleStyle.Render(info.Kind) + " " + mutedStyle.Render(info.ID),
		"status:  " + status,
	}
	if info.Result != nil {
		lines = append(lines,
			"message: "+info.Result.Message,
			"created: "+strconv.Itoa(info.Result.Created),
		)
		if len(info.Result.Skipped) > 0 {
			lines = append(lines, "skipped: "+strings.Join(info.Result.Skipped, ", "))
		}
		if info.Result.PairingID != "" {
			lines = append(lines, "pairing: "+info.Result.PairingID)
		}
	}
	if info.StartedAt != nil && info.FinishedAt != nil {
		lines = append(lines, "took:    "+info.FinishedAt.Sub(*info.StartedAt).Round(time.Millisecond).String())
	}

	fmt.Fprintln(w, summaryStyle.Render(strings.Join(lines, "\n")))
}

// renderProgress prints one progress update.
func renderProgress(w io.Writer, snap jobs.Snapshot) {
	fmt.Fprintf(w, "%s %s %s\n",
		mutedStyle.Render(fmt.Sprintf("%3d%%", snap.Percent)),
		snap.State.String(),
		snap.Message,
	)
}

// renderPairings prints pairing records as a table.
func renderPairings(w io.Writer, records []peerpair.PairingRecord) {
	t := newTable("Pairing", "Kind", "Grader", "Recipient", "Task", "Due", "Archived")
	for _, rec := range records {
		due := "-"
		if rec.Task.DueDate != nil {
			due = rec.Task.DueDate.Format("2006-01-02 15:04")
		}
		t.Row(
			rec.Pairing.ID,
			string(rec.Pairing.Kind),
			strconv.FormatInt(int64(rec.Pairing.GraderID), 10),
			strconv.FormatInt(int64(rec.Pairing.RecipientID), 10),
			string(rec.Task.Status),
			due,
			strconv.FormatBool(rec.Pairing.Archived),
		)
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d pairings", len(records))))
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
