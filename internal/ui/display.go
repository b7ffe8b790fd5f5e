package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ari/usage-history/internal/history"
)

// ANSI color codes
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorBold    = "\033[1m"
)

// FormatTokens formats token count with K/M suffix
func FormatTokens(tokens int64) string {
	if tokens >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	}
	if tokens >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	}
	return fmt.Sprintf("%d", tokens)
}

// FormatDateTime formats a time into a human-readable datetime
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// Error displays an error message
func Error(msg string) {
	fmt.Fprintf(os.Stderr, "%sError: %s%s\n", ColorRed, msg, ColorReset)
}

// DisplayRefreshReport prints the outcome of one refresh pass.
func DisplayRefreshReport(r *history.RefreshReport) {
	var color string
	switch r.Outcome {
	case history.OutcomeSuccess:
		color = ColorGreen
	case history.OutcomeNoOp:
		color = ColorCyan
	default:
		color = ColorYellow
	}
	fmt.Printf("\n%sRefresh: %s%s\n", ColorBold, color+r.Outcome.String(), ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("  Sources processed:  %d\n", r.SourcesProcessed)
	fmt.Printf("  Sources retired:    %d\n", r.SourcesRetired)
	if r.SourcesFailed > 0 {
		fmt.Printf("  %sSources failed:     %d%s\n", ColorYellow, r.SourcesFailed, ColorReset)
	}
	fmt.Printf("  Records ingested:   %s\n", humanize.Comma(int64(r.RecordsIngested)))
	if r.RecordsSkipped > 0 {
		fmt.Printf("  %sRecords skipped:    %d%s\n", ColorYellow, r.RecordsSkipped, ColorReset)
	}
	fmt.Printf("  Dates recomputed:   %d\n", r.DatesTouched)
	if r.DatesFrozen > 0 {
		fmt.Printf("  Dates frozen:       %d\n", r.DatesFrozen)
	}
	if r.DatesFailed > 0 {
		fmt.Printf("  %sDates failed:       %d%s\n", ColorYellow, r.DatesFailed, ColorReset)
	}
	fmt.Printf("  Gaps filled:        %d\n", r.GapsFilled)
}

// DisplayStats prints store-level totals.
func DisplayStats(stats *history.StoreStats) {
	fmt.Printf("\n%sUsage History%s\n", ColorBold, ColorReset)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n%s%sStore%s\n", ColorBold, ColorBlue, ColorReset)
	fmt.Printf("  Stored events:   %s\n", humanize.Comma(stats.TotalRecords))
	fmt.Printf("  Days tracked:    %s\n", humanize.Comma(stats.TotalDays))
	if stats.OldestDate != "" {
		fmt.Printf("  Range:           %s to %s\n", stats.OldestDate, stats.NewestDate)
	}

	fmt.Printf("\n%s%sTotals%s\n", ColorBold, ColorMagenta, ColorReset)
	fmt.Printf("  Prompts:         %s\n", humanize.Comma(stats.TotalPrompts))
	fmt.Printf("  Responses:       %s\n", humanize.Comma(stats.TotalResponses))
	fmt.Printf("  Sessions:        %s\n", humanize.Comma(stats.TotalSessions))
	fmt.Printf("  Tokens:          %s\n", FormatTokens(stats.TotalTokens))

	fmt.Printf("\n%s%sTokens by Model%s\n", ColorBold, ColorGreen, ColorReset)
	if len(stats.TokensByModel) > 0 {
		for i, m := range stats.TokensByModel {
			fmt.Printf("  %d. %s - %s\n", i+1, m.Model, FormatTokens(m.Tokens))
		}
	} else {
		fmt.Printf("  %sNo data%s\n", ColorYellow, ColorReset)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

// DisplaySnapshots prints the per-day aggregate table.
func DisplaySnapshots(snaps []history.DailySnapshot) {
	if len(snaps) == 0 {
		fmt.Printf("%sNo snapshots in range%s\n", ColorYellow, ColorReset)
		return
	}

	fmt.Printf("\n%s%sDaily Usage%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Printf("  %-12s %8s %10s %9s %12s\n", "Date", "Prompts", "Responses", "Sessions", "Tokens")
	fmt.Printf("  %s\n", strings.Repeat("-", 55))
	var total history.SnapshotTotals
	for _, s := range snaps {
		fmt.Printf("  %-12s %8d %10d %9d %12s\n",
			s.Date, s.TotalPrompts, s.TotalResponses, s.TotalSessions,
			FormatTokens(s.TotalTokens))
		total.TotalPrompts += s.TotalPrompts
		total.TotalResponses += s.TotalResponses
		total.TotalTokens += s.TotalTokens
	}
	fmt.Printf("  %s\n", strings.Repeat("-", 55))
	fmt.Printf("  %-12s %8d %10d %9s %12s\n", "Total",
		total.TotalPrompts, total.TotalResponses, "-", FormatTokens(total.TotalTokens))
}

// DisplayRollup prints the cross-device per-day table.
func DisplayRollup(rows []history.RollupRow) {
	if len(rows) == 0 {
		fmt.Printf("%sNo device snapshots in range%s\n", ColorYellow, ColorReset)
		return
	}

	fmt.Printf("\n%s%sAll Devices%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Printf("  %-12s %8s %8s %10s %12s\n", "Date", "Devices", "Prompts", "Responses", "Tokens")
	fmt.Printf("  %s\n", strings.Repeat("-", 55))
	for _, r := range rows {
		fmt.Printf("  %-12s %8d %8d %10d %12s\n",
			r.Date, r.Devices, r.TotalPrompts, r.TotalResponses, FormatTokens(r.TotalTokens))
	}
}

// DisplayDevices prints the known-device listing.
func DisplayDevices(devices []history.DeviceSummary, localID string) {
	if len(devices) == 0 {
		fmt.Printf("%sNo devices have published snapshots%s\n", ColorYellow, ColorReset)
		return
	}

	fmt.Printf("\n%s%sDevices%s\n", ColorBold, ColorBlue, ColorReset)
	for i, d := range devices {
		marker := ""
		if d.DeviceID == localID {
			marker = ColorGreen + " (this device)" + ColorReset
		}
		name := d.DeviceName
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %d. %s [%s]%s\n", i+1, name, d.DeviceID, marker)
		fmt.Printf("     %d days, latest %s\n", d.Days, d.LatestDate)
	}
}

// DisplayBackups prints the backup log.
func DisplayBackups(backups []history.BackupRecord) {
	if len(backups) == 0 {
		fmt.Printf("%sNo backups recorded%s\n", ColorYellow, ColorReset)
		return
	}

	fmt.Printf("\n%s%sBackups%s\n", ColorBold, ColorBlue, ColorReset)
	for _, b := range backups {
		fmt.Printf("  %s  %s records  %s  (%s)\n",
			FormatDateTime(b.CreatedAt), humanize.Comma(b.RecordCount), b.Path,
			humanize.Time(b.CreatedAt))
	}
}
