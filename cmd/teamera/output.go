package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"teamera_server/core/service/profileview"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stdout is replaced in tests.
var stdout io.Writer = os.Stdout

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), value)
}

// printView renders a profile card.
func printView(w io.Writer, v *profileview.View) {
	fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, "["+v.Initials+"]"), colorize(colorBold, v.Name))
	printField(w, "Title", v.Title)
	printField(w, "Location", v.Location)
	printField(w, "About", v.About)
	for _, l := range v.Links {
		printField(w, l.Label, l.URL)
	}
	if len(v.Skills) > 0 {
		printField(w, "Skills", strings.Join(v.Skills, ", "))
	}
	for _, e := range v.Experience {
		printField(w, "Experience", strings.TrimSpace(fmt.Sprintf("%s at %s %s", e.Title, e.Company, e.Duration)))
	}
	for _, e := range v.Education {
		printField(w, "Education", strings.TrimSpace(fmt.Sprintf("%s, %s %s", e.Degree, e.Institution, e.Duration)))
	}
}
