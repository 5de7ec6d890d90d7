package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func success(w io.Writer, format string, a ...any) {
	_, _ = green.Fprintf(w, "✓ "+format+"\n", a...)
}

func warning(w io.Writer, format string, a ...any) {
	_, _ = yellow.Fprintf(w, "! "+format+"\n", a...)
}

func failure(w io.Writer, format string, a ...any) {
	_, _ = red.Fprintf(w, "✗ "+format+"\n", a...)
}

func heading(w io.Writer, format string, a ...any) {
	_, _ = cyan.Fprintf(w, format+"\n", a...)
}

func info(w io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", a...)
}
