package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// notice writes a one-line status message to stderr so stdout stays usable
// for replies and tables.
func notice(color, symbol, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, symbol+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notice(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notice(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { notice(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// writeReply prints a reply as it would be posted. Company headings and the
// identifier line are highlighted; the markdown itself is left untouched so
// the output can still be pasted into a comment.
func writeReply(w io.Writer, reply string) {
	for _, line := range strings.Split(reply, "\n") {
		switch {
		case strings.HasPrefix(line, "# "):
			line = colorize(colorBold+colorCyan, line)
		case strings.HasPrefix(line, "*WKN:"):
			line = colorize(colorYellow, line)
		}
		fmt.Fprintln(w, line)
	}
}
