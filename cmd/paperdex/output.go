package main

import (
	"fmt"
	"io"
	"os"
)

// stderr receives every human-facing message; tests swap it out.
var stderr io.Writer = os.Stderr

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func paint(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

func emit(code, marker, format string, args ...any) {
	fmt.Fprintln(stderr, paint(code, marker+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { emit(ansiGreen, "✓", format, args...) }
func printError(format string, args ...any)   { emit(ansiRed, "✗", format, args...) }
func printWarning(format string, args ...any) { emit(ansiYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { emit(ansiCyan, "→", format, args...) }

// printStatus writes an indented "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}

func stateColor(state string) string {
	switch state {
	case "COMPLETED":
		return paint(ansiGreen, state)
	case "FAILED":
		return paint(ansiRed, state)
	}
	return paint(ansiYellow, state)
}
