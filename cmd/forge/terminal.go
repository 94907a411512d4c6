package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/haasonsaas/forge/pkg/terminal"
)

var _ terminal.Terminal = (*stdioTerminal)(nil)

// stdioTerminal implements terminal.Terminal over a line-oriented
// reader and writer, normally stdin and stdout. A single background
// goroutine owns the reader so Confirm and Ask can honor context
// cancellation while a read is pending.
type stdioTerminal struct {
	out         io.Writer
	lines       chan string
	readErr     error // set before lines is closed
	interactive bool
}

func newStdioTerminal(in io.Reader, out io.Writer, interactive bool) *stdioTerminal {
	t := &stdioTerminal{
		out:         out,
		lines:       make(chan string),
		interactive: interactive,
	}
	go t.pump(in)
	return t
}

// pump feeds input lines to readLine until the reader is exhausted.
// bufio.Reader instead of a Scanner so pasted input has no line-length
// ceiling.
func (t *stdioTerminal) pump(in io.Reader) {
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil {
			if line != "" {
				t.lines <- line
			}
			if err != io.EOF {
				t.readErr = err
			}
			close(t.lines)
			return
		}
		t.lines <- line
	}
}

// readLine returns the next input line. io.EOF means the input source
// is exhausted, which ends a piped session cleanly.
func (t *stdioTerminal) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			if t.readErr != nil {
				return "", t.readErr
			}
			return "", io.EOF
		}
		return line, nil
	}
}

// prompt draws the input marker. Suppressed for piped input so output
// stays clean for scripts.
func (t *stdioTerminal) prompt() {
	if t.interactive {
		fmt.Fprint(t.out, "> ")
	}
}

func (t *stdioTerminal) Print(text string) {
	fmt.Fprintln(t.out, text)
}

func (t *stdioTerminal) Stream(delta string) {
	fmt.Fprint(t.out, delta)
}

// Confirm asks a yes/no question. Only an explicit yes approves;
// anything else, including end of input, declines.
func (t *stdioTerminal) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(t.out, "%s [y/N]: ", prompt)
	line, err := t.readLine(ctx)
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Ask poses a free-form question. Options are offered as a numbered
// list; a number picks the option and any other text is taken as the
// answer itself.
func (t *stdioTerminal) Ask(ctx context.Context, question string, options []string) (string, error) {
	if len(options) == 0 {
		fmt.Fprintf(t.out, "%s: ", question)
	} else {
		fmt.Fprintln(t.out, question)
		for i, opt := range options {
			fmt.Fprintf(t.out, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprint(t.out, "choice: ")
	}
	line, err := t.readLine(ctx)
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(options) {
		return options[n-1], nil
	}
	return line, nil
}
