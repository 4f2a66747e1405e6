package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tonimelisma/pansave/internal/panops"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// Task status colours. lipgloss drops them when stdout is not a terminal.
var (
	completedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	failedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	pausedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	downloadingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	headerStyle      = lipgloss.NewStyle().Bold(true)
)

// styleStatus renders a task status in its colour.
func styleStatus(s panops.Status) string {
	switch s {
	case panops.StatusCompleted:
		return completedStyle.Render(s.String())
	case panops.StatusFailed:
		return failedStyle.Render(s.String())
	case panops.StatusPaused:
		return pausedStyle.Render(s.String())
	case panops.StatusDownloading:
		return downloadingStyle.Render(s.String())
	default:
		return s.String()
	}
}

// formatProgress renders "45.0% (12.3 MB / 27.3 MB)", or just the byte count
// when the size is unknown.
func formatProgress(s panops.Snapshot) string {
	if s.BytesTotal <= 0 {
		return formatSize(s.BytesDone)
	}

	return fmt.Sprintf("%.1f%% (%s / %s)", s.Progress*100, formatSize(s.BytesDone), formatSize(s.BytesTotal))
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length. Widths are display
// widths, so styled and wide (CJK) cells still line up.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = headerStyle.Render(h)
	}

	printRow(w, styled, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
