// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jonathan/golden-record/internal/pipeline"
	"github.com/jonathan/golden-record/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode. It is safe for concurrent
// use because progress events arrive from path goroutines.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintProgress outputs a one-line progress event.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev pipeline.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	icon := "✓"
	switch ev.Stage {
	case pipeline.StageFailed, pipeline.StageConsolidation:
		icon = "✗"
	case pipeline.StageConsolidated:
		icon = "★"
	}

	label := string(ev.Path)
	if label == "" {
		label = "golden"
	}
	fmt.Fprintf(p.out, "%s [%s] %-6s %s (%dms)\n", icon, shortID(ev.RecordID), label, ev.Message, ev.ElapsedMs)
}

// PrintRecord outputs a human-readable summary of one resolution record.
func (p *Printer) PrintRecord(rec *types.ResolutionRecord) {
	if rec == nil {
		return
	}

	var sb strings.Builder
	src := rec.Source.SourceRecord
	sb.WriteString(fmt.Sprintf("Customer: %s (%s)\n", src.Name, src.CustomerID))
	sb.WriteString(fmt.Sprintf("Mode:     %s\n", rec.Mode))
	if rec.Summary != nil {
		sb.WriteString(fmt.Sprintf("Summary:  %s\n", *rec.Summary))
	}
	sb.WriteString("\n")

	for _, path := range []types.Path{types.PathFast, types.PathDeep} {
		if !rec.Mode.Selects(path) {
			continue
		}
		res := rec.PathResolution(path)
		sb.WriteString(fmt.Sprintf("%-5s %s", strings.ToUpper(string(path)), stateLabel(res.State)))
		if res.ElapsedMs > 0 {
			sb.WriteString(fmt.Sprintf(" in %dms", res.ElapsedMs))
		}
		if res.Attempt > 1 {
			sb.WriteString(fmt.Sprintf(" (attempt %d)", res.Attempt))
		}
		sb.WriteString("\n")
		if res.Error != "" {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", res.Error))
		}
		if res.Result != nil {
			writeProfile(&sb, res.Result)
		}
	}

	if c := rec.Consolidated; c != nil {
		sb.WriteString(fmt.Sprintf("\nGOLDEN %s\n", stateLabel(c.State)))
		if c.Error != "" {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", c.Error))
		}
		if c.Result != nil {
			writeProfile(&sb, c.Result)
		}
	}

	p.printBox("RECORD "+shortID(rec.ID), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintQueue outputs the ids and customers waiting in the queue.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintQueue(items []types.WorkItem) {
	if len(items) == 0 {
		p.mu.Lock()
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "QUEUE EMPTY")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		p.mu.Unlock()
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d items waiting:\n\n", len(items)))
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("%d. %s  %s\n", i+1, shortID(items[i].ID), items[i].SourceRecord.Name))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(items)-maxItemsToShow))
	}

	p.printBox("QUEUE", strings.TrimSuffix(sb.String(), "\n"))
}

func writeProfile(sb *strings.Builder, profile *types.ResultProfile) {
	sb.WriteString(fmt.Sprintf("  Name:       %s\n", profile.Name))
	sb.WriteString(fmt.Sprintf("  Sentiment:  %s\n", profile.Sentiment))
	sb.WriteString(fmt.Sprintf("  Intent:     %s\n", profile.Intent))
	sb.WriteString(fmt.Sprintf("  Confidence: %.2f\n", profile.Confidence))
	if len(profile.ChangedFields) > 0 {
		sb.WriteString(fmt.Sprintf("  Changed:    %s\n", strings.Join(profile.ChangedFields, ", ")))
	}
}

func stateLabel(s types.State) string {
	switch s {
	case types.StateCompleted:
		return "✓ completed"
	case types.StateFailed:
		return "✗ failed"
	case types.StateRunning:
		return "… running"
	default:
		return "· pending"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
