package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/wasm-sandbox/engine"
)

var (
	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

func styled(s lipgloss.Style, text string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return text
	}
	return s.Render(text)
}

func reportResults(w io.Writer, scriptFile string, results []engine.Result, failFast bool) {
	fmt.Fprintln(w, styled(headerStyle, scriptFile))

	for i, r := range results {
		locus := r.Command.CommandLocus()
		switch {
		case r.Skipped:
			fmt.Fprintf(w, "  %s %3d %s\n", styled(skipStyle, "SKIP"), i, locus)
		case r.Err != nil:
			fmt.Fprintf(w, "  %s %3d %s: %v\n", styled(failStyle, "FAIL"), i, locus, r.Err)
			if failFast {
				fmt.Fprintln(w, styled(failStyle, "stopping at first failure"))
				return
			}
		default:
			line := fmt.Sprintf("  %s %3d %s", styled(passStyle, "PASS"), i, locus)
			if r.Duration > 0 {
				line += fmt.Sprintf(" (%s)", r.Duration)
			}
			fmt.Fprintln(w, line)
		}
	}

	s := engine.Summarize(results)
	fmt.Fprintf(w, "%s passed, %s failed, %s skipped\n",
		styled(passStyle, fmt.Sprint(s.Passed)),
		styled(failStyle, fmt.Sprint(s.Failed)),
		styled(skipStyle, fmt.Sprint(s.Skipped)))
}
