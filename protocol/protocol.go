package protocol

import (
	"errors"
	"strings"
)

var (
	ErrEmptyLine      = errors.New("empty line")
	ErrUnknownCommand = errors.New("unknown command")
	ErrArity          = errors.New("wrong number of arguments")
)

// Command names as typed by the client.
const (
	CmdRegister = "/register"
	CmdLogin    = "/login"
	CmdJoin     = "/join"
	CmdDM       = "/dm"
	CmdHelp     = "/help"
	CmdBack     = "/back"
	CmdExit     = "/exit"
)

// CommandPrefix marks a line as a command rather than chat text.
const CommandPrefix = "/"

var arity = map[string]int{
	CmdRegister: 2,
	CmdLogin:    2,
	CmdJoin:     1,
	CmdDM:       1,
	CmdHelp:     0,
	CmdBack:     0,
	CmdExit:     0,
}

// Line is one parsed client line: either a command with its arguments or
// plain chat text.
type Line struct {
	Command string
	Args    []string
	Text    string
}

func (l *Line) IsCommand() bool {
	return l.Command != ""
}

// ParseLine strips the line terminator and classifies the line. For a
// recognised command with the wrong arity, or an unknown command, the
// returned Line still carries the command name alongside the error.
func ParseLine(raw string) (*Line, error) {
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrEmptyLine
	}

	if !strings.HasPrefix(trimmed, CommandPrefix) {
		return &Line{Text: trimmed}, nil
	}

	parts := strings.Fields(trimmed)
	line := &Line{Command: parts[0], Args: parts[1:]}

	want, ok := arity[line.Command]
	if !ok {
		return line, ErrUnknownCommand
	}
	if len(line.Args) != want {
		return line, ErrArity
	}
	return line, nil
}
