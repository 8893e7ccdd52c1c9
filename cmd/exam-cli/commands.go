package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	ws "github.com/stemsi/exstem-session/internal/websocket"
)

var errEmpty = errors.New("empty command")

type commandKind int

const (
	cmdAction commandKind = iota
	cmdHelp
	cmdView
	cmdQuit
)

type command struct {
	kind commandKind
	req  ws.Request
}

// simpleActions take no argument.
var simpleActions = map[string]ws.Action{
	"clear":   ws.ActionClearSelection,
	"mark":    ws.ActionToggleMark,
	"next":    ws.ActionNext,
	"n":       ws.ActionNext,
	"save":    ws.ActionSaveAndNext,
	"s":       ws.ActionSaveAndNext,
	"submit":  ws.ActionSubmit,
	"cancel":  ws.ActionCancelSubmit,
	"confirm": ws.ActionConfirmSubmit,
	"resume":  ws.ActionResume,
	"fresh":   ws.ActionStartFresh,
	"bg":      ws.ActionBackground,
	"fg":      ws.ActionForeground,
	"leave":   ws.ActionLeave,
	"stay":    ws.ActionStay,
}

// optionActions take an option letter (A, B, ...) or a 1-based number.
var optionActions = map[string]ws.Action{
	"pick":   ws.ActionStage,
	"p":      ws.ActionStage,
	"answer": ws.ActionSelect,
	"a":      ws.ActionSelect,
	"elim":   ws.ActionEliminate,
	"x":      ws.ActionEliminate,
}

// parseCommand turns one input line into a command.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{}, errEmpty
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "view", "v":
		return command{kind: cmdView}, nil
	case "quit", "q", "back":
		return command{kind: cmdQuit}, nil
	case "jump", "j":
		if len(args) != 1 {
			return command{}, errors.New("usage: jump <question number>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("invalid question number %q", args[0])
		}
		idx := n - 1
		return command{req: ws.Request{Action: ws.ActionJumpTo, Index: &idx}}, nil
	}

	if action, ok := simpleActions[name]; ok {
		return command{req: ws.Request{Action: action}}, nil
	}
	if action, ok := optionActions[name]; ok {
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: %s <option>", name)
		}
		opt, err := parseOption(args[0])
		if err != nil {
			return command{}, err
		}
		return command{req: ws.Request{Action: action, Option: &opt}}, nil
	}
	return command{}, fmt.Errorf("unknown command %q, type 'help'", name)
}

// parseOption accepts "b" or "2" for the second option.
func parseOption(s string) (int, error) {
	if len(s) == 1 && s[0] >= 'a' && s[0] <= 'z' {
		return int(s[0] - 'a'), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid option %q", s)
	}
	return n - 1, nil
}

// optionLabel is the inverse of parseOption for display.
func optionLabel(i int) string {
	if i >= 0 && i < 26 {
		return string(rune('A' + i))
	}
	return strconv.Itoa(i + 1)
}
