package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fetchledger/internal/queue"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiBold   = "\x1b[1m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.English)

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

// renderStatusLine formats "  <label>:   [KIND] message", colored by kind.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	badge := "[" + style.label + "]"
	if message != "" {
		badge += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", badge)
	if colorize {
		line = style.color + line + ansiReset
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	out := []string{heading, strings.Repeat("-", len(heading))}
	if colorize {
		for i := range out {
			out[i] = ansiBlue + out[i] + ansiReset
		}
	}
	return out
}

// renderBanner frames an urgent message so it stands out in scrollback.
func renderBanner(lines []string, colorize bool) []string {
	width := 0
	for _, l := range lines {
		width = max(width, len(l))
	}
	rule := strings.Repeat("!", width+4)
	out := make([]string, 0, len(lines)+2)
	out = append(out, rule)
	for _, l := range lines {
		out = append(out, fmt.Sprintf("! %-*s !", width, l))
	}
	out = append(out, rule)
	if colorize {
		for i := range out {
			out[i] = ansiBold + ansiRed + out[i] + ansiReset
		}
	}
	return out
}

// statusLabel turns a journal status such as "digest_mismatch" into
// "Digest Mismatch".
func statusLabel(status queue.Status) string {
	return humanizeLabel(string(status))
}

func humanizeLabel(value string) string {
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func journalStatusKind(status queue.Status) statusKind {
	switch status {
	case queue.StatusCompleted:
		return statusOK
	case queue.StatusFailed, queue.StatusDigestMismatch:
		return statusError
	case queue.StatusTimedOut, queue.StatusHalted:
		return statusWarn
	default:
		return statusInfo
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func writeLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
