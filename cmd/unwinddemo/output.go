package main

import (
	"fmt"
	"io"
	"os"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
)

// colorWriter wraps os.Stdout with go-colorable's ANSI translation (a
// no-op passthrough on any platform that already honors ANSI codes) and
// remembers whether the underlying stream is actually a terminal, so
// output can drop color codes entirely when piped, the same pairing
// delve's terminal package uses for its REPL output.
type colorWriter struct {
	io.Writer
	tty bool
}

func newColorWriter() *colorWriter {
	fd := os.Stdout.Fd()
	return &colorWriter{
		Writer: colorable.NewColorable(os.Stdout),
		tty:    isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

const (
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiReset  = "\x1b[0m"
)

func (w *colorWriter) colorf(color, format string, args ...interface{}) {
	if !w.tty {
		fmt.Fprintf(w, format, args...)
		return
	}
	fmt.Fprint(w, color)
	fmt.Fprintf(w, format, args...)
	fmt.Fprint(w, ansiReset)
}
