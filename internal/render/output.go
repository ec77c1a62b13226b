package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/edulabs/labscope/internal/strutil"
	"github.com/edulabs/labscope/internal/telemetry"
)

// Renderer formats telemetry event streams for terminal display.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Events formats a session's event log.
func (r *Renderer) Events(events []telemetry.Event) string {
	if len(events) == 0 {
		return "No events found"
	}

	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Session Events\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for _, e := range events {
		r.formatEvent(&sb, e)
	}

	return sb.String()
}

func (r *Renderer) formatEvent(sb *strings.Builder, e telemetry.Event) {
	timeStr := e.Timestamp.Format("15:04:05")

	// Command-like events get the pass/fail treatment
	if cmd := e.CommandText(); cmd != "" {
		cmd = strutil.TruncateRunes(cmd, 96)
		code, _ := e.ExitCode()
		if r.pretty {
			status := color.GreenString("✓")
			if code != 0 {
				status = color.RedString("✗")
			}
			fmt.Fprintf(sb, "%s %s %s\n", status, color.HiBlackString(timeStr), cmd)
		} else {
			fmt.Fprintf(sb, "[%s] exit=%d %s\n", timeStr, code, cmd)
		}
		return
	}

	label := string(e.Type)
	if e.StepID != "" {
		label += " " + e.StepID
	}
	if detail := strutil.TruncateMap(e.Payload, 60); detail != "" {
		label += " " + detail
	}

	if r.pretty {
		fmt.Fprintf(sb, "• %s %s\n", color.HiBlackString(timeStr), color.CyanString(label))
	} else {
		fmt.Fprintf(sb, "[%s] %s\n", timeStr, label)
	}
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
