package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// Prompter asks the operator for input on the terminal. Secrets are read
// without echo when stdin is a terminal and as a plain line when piped.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewPrompter creates a Prompter on stdin and stdout
func NewPrompter() *Prompter {
	return &Prompter{in: bufio.NewReader(os.Stdin), out: os.Stdout, fd: int(syscall.Stdin)}
}

// newPrompter is the test constructor; fd -1 never reports a terminal
func newPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
}

// Interactive reports whether stdin is a terminal and the mode allows prompts
func (p *Prompter) Interactive() bool {
	return p.fd >= 0 && term.IsTerminal(p.fd) && DetectMode().AllowsInteractivePrompts()
}

// Line prints label and returns the trimmed answer
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret prints label and reads a value without echo
func (p *Prompter) Secret(label string) (string, error) {
	if p.fd < 0 || !term.IsTerminal(p.fd) {
		return p.Line(label)
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Confirm asks a yes/no question; only "y" or "yes" confirms
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Line(question + " (y/N): ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
