package check

import (
	"fmt"
	"strings"
)

// Action is what a handler asks the dispatcher to do with an operation.
type Action uint8

const (
	ActionIgnore Action = iota
	ActionLog
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionLog:
		return "log"
	case ActionBlock:
		return "block"
	default:
		return "ignore"
	}
}

// ParseAction accepts the configuration spellings of an action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore", "":
		return ActionIgnore, nil
	case "log":
		return ActionLog, nil
	case "block":
		return ActionBlock, nil
	default:
		return ActionIgnore, fmt.Errorf("unknown action: %s", s)
	}
}

// Verdict is the outcome of evaluating one check.
type Verdict struct {
	Action     Action `json:"action"`
	Type       Type   `json:"-"`
	Message    string `json:"message,omitempty"`
	Name       string `json:"name,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
}

// Continue is the verdict of a handler that has nothing to report.
var Continue = Verdict{Action: ActionIgnore}

func (v Verdict) Blocks() bool {
	return v.Action == ActionBlock
}

// Reportable reports whether the verdict should reach the alarm sink.
func (v Verdict) Reportable() bool {
	return v.Action == ActionLog || v.Action == ActionBlock
}
