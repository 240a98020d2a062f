package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/corey/bakewatch/internal/adapters/socket"
	"github.com/corey/bakewatch/internal/ports"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// isStdoutTTY returns true if stdout is connected to a terminal.
func isStdoutTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func paint(color, s string) string {
	if !isStdoutTTY() {
		return s
	}
	return color + s + colorReset
}

// formatHealth renders a health response.
//
//	⚡ bakewatch watching /site/src │ up 2m0s │ 4 builds │ debounce 400ms
//	  root /site/src  recursive  active
//	  last build #4 change (3 changes) ok in 1.2s
func formatHealth(h *socket.HealthResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s │ up %s │ %d builds │ debounce %s\n",
		paint(colorBold, "⚡ bakewatch watching "+h.Input), h.Uptime, h.Builds, h.Debounce)
	for _, r := range h.Roots {
		state := paint(colorGreen, "active")
		if !r.Active {
			state = paint(colorRed, "closed")
		}
		flags := []string{}
		if r.Recursive {
			flags = append(flags, "recursive")
		}
		if !r.SkipHidden {
			flags = append(flags, "hidden")
		}
		if r.Pending {
			flags = append(flags, paint(colorYellow, "refresh pending"))
		}
		fmt.Fprintf(&b, "  root %s  %s  %s\n", r.Root, strings.Join(flags, " "), state)
	}
	if h.Overflows > 0 {
		fmt.Fprintf(&b, "  %d change bursts coalesced\n", h.Overflows)
	}
	switch {
	case h.Building:
		b.WriteString("  " + paint(colorYellow, "building…") + "\n")
	case h.Dirty:
		b.WriteString("  " + paint(colorYellow, "changes pending") + "\n")
	}
	if h.LastBuild != nil {
		b.WriteString("  last build " + formatRecord(*h.LastBuild) + "\n")
	}
	return b.String()
}

// formatRecord renders one history entry on a single line.
func formatRecord(r ports.BuildRecord) string {
	result := paint(colorGreen, "ok")
	if !r.OK() {
		result = paint(colorRed, "failed: "+r.Error)
	}
	reason := r.Reason
	if r.Reinit {
		reason += "+reinit"
	}
	changes := ""
	if r.Changes > 0 {
		changes = fmt.Sprintf(" (%d changes)", r.Changes)
	}
	return fmt.Sprintf("#%d %s %s%s %s in %s",
		r.Seq,
		paint(colorGray, r.Started.Local().Format(time.DateTime)),
		reason, changes, result, r.Duration.Round(time.Millisecond))
}
