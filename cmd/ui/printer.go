package ui

import (
	"fmt"
	"strings"
)

// IsRawMode reports whether the terminal is in raw mode. Raw mode
// needs CRLF line endings; the print helpers translate on the fly.
var IsRawMode = false

// Printf is fmt.Printf with raw-mode line ending translation.
func Printf(format string, a ...interface{}) {
	Print(fmt.Sprintf(format, a...))
}

// Print is fmt.Print with raw-mode line ending translation.
func Print(a ...interface{}) {
	s := fmt.Sprint(a...)
	if IsRawMode {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	fmt.Print(s)
}

// Println is fmt.Println with raw-mode line ending translation.
func Println(a ...interface{}) {
	s := fmt.Sprint(a...)
	if IsRawMode {
		fmt.Print(strings.ReplaceAll(s, "\n", "\r\n") + "\r\n")
		return
	}
	fmt.Println(s)
}
