// Package console implements the AP's UART console protocol: four
// tagged line prefixes consumed by a host harness, a debug-marker+flush+ACK
// prompt sequence, and bounded line input. It wraps any io.Reader/io.Writer
// pair behind a stable contract, so tests exercise it over in-memory
// buffers and production wires it to stdin/stdout.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ackSentinel precedes the raw bufio.Reader read that follows every prompt,
// matching the original host_messaging.c's print_ack() call.
const ackSentinel = "%ack"

// Console is the line-oriented UART console.
type Console struct {
	out *bufio.Writer
	in  *bufio.Reader

	// rawFd, if >= 0, is a terminal file descriptor usable for hidden
	// (no-echo) input via golang.org/x/term. It is -1 when the input
	// stream isn't a real terminal (pipes, the host test harness, CI),
	// in which case hidden reads fall back to a plain bounded line read.
	rawFd int
}

// New wraps r/w as a Console. If r is an *os.File attached to a terminal,
// hidden-input reads use golang.org/x/term; otherwise they degrade to a
// plain bounded read.
func New(r io.Reader, w io.Writer) *Console {
	fd := -1
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &Console{
		out:   bufio.NewWriter(w),
		in:    bufio.NewReader(r),
		rawFd: fd,
	}
}

func (c *Console) line(prefix, format string, args ...interface{}) {
	fmt.Fprintf(c.out, "%s %s\n", prefix, fmt.Sprintf(format, args...))
	c.out.Flush()
}

// Info prints a %info line (P>, F>, AP>, C>, LOC>, DATE>, CUST>, 0x...> lines).
func (c *Console) Info(format string, args ...interface{}) { c.line("%info", format, args...) }

// Debug prints a %debug diagnostic line.
func (c *Console) Debug(format string, args ...interface{}) { c.line("%debug", format, args...) }

// Error prints a %error failure line.
func (c *Console) Error(format string, args ...interface{}) { c.line("%error", format, args...) }

// Success prints a %success terminal-outcome line (List, Boot, Replace, Attest).
func (c *Console) Success(format string, args ...interface{}) { c.line("%success", format, args...) }

// Prompt prints msg as a debug marker, flushes, emits the ACK sentinel, then
// reads one bounded line, matching host_messaging.c's recv_input sequence.
// The trailing newline is stripped.
func (c *Console) Prompt(msg string, maxLen int) (string, error) {
	fmt.Fprint(c.out, "%debug " + msg)
	c.out.Flush()
	fmt.Fprintln(c.out, ackSentinel)
	c.out.Flush()
	return c.readBoundedLine(maxLen)
}

// PromptHidden behaves like Prompt, but does not echo input back to the
// terminal when one is attached — used for PIN/token entry.
func (c *Console) PromptHidden(msg string, maxLen int) (string, error) {
	fmt.Fprint(c.out, "%debug "+msg)
	c.out.Flush()
	fmt.Fprintln(c.out, ackSentinel)
	c.out.Flush()

	if c.rawFd >= 0 {
		b, err := term.ReadPassword(c.rawFd)
		fmt.Fprintln(c.out)
		c.out.Flush()
		if err != nil {
			return "", err
		}
		return boundedTrim(string(b), maxLen), nil
	}
	return c.readBoundedLine(maxLen)
}

func (c *Console) readBoundedLine(maxLen int) (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return boundedTrim(line, maxLen), nil
}

func boundedTrim(s string, maxLen int) string {
	s = strings.TrimRight(s, "\r\n")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
