package credential

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when a prompt is needed but stdin is not a
// terminal.
var ErrNoTerminal = errors.New("credential: cannot prompt, stdin is not a terminal")

// Prompter asks the user for a value.
type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

// TerminalPrompter prompts on a terminal. Secret values are read with echo
// disabled.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin, writing labels to stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Prompt implements Prompter.
func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}

	_, _ = fmt.Fprint(p.Out, label)
	if secret {
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(p.Out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSpace(label), err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.TrimSpace(label), err)
	}
	return strings.TrimSpace(line), nil
}

// Complete prompts for the fields c is missing and returns the completed
// credential. A nil prompter leaves c unchanged.
func Complete(c Credential, p Prompter) (Credential, error) {
	if p == nil {
		return c, nil
	}
	for _, key := range c.Missing() {
		var err error
		switch key {
		case KeyUsername:
			c.Username, err = p.Prompt("HDFS Username: ", false)
			c.UserOrigin = OriginPrompt
		case KeyPassword:
			c.Password, err = p.Prompt("HDFS Password: ", true)
		case KeyToken:
			c.Token, err = p.Prompt("HDFS Token: ", true)
		}
		if err != nil {
			return c, err
		}
	}
	return c, nil
}
