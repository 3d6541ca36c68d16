package policy

import (
	"context"
	"errors"

	"github.com/dagbolade/rasp-agent/internal/check"
	"github.com/rs/zerolog/log"
)

// ErrNoPolicies is returned by a loader that found nothing to load.
var ErrNoPolicies = errors.New("no policies found")

// Kind selects the plugin backend.
type Kind string

const (
	KindWASM Kind = "wasm"
	KindRego Kind = "rego"
	KindLua  Kind = "lua"
)

// Info describes the request an operation belongs to.
type Info struct {
	RequestID  string `json:"request_id"`
	URL        string `json:"url"`
	Method     string `json:"method,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// Request represents an intercepted operation to be evaluated
type Request struct {
	CheckType string         `json:"check_type"`
	Point     string         `json:"point"`
	Params    map[string]any `json:"params"`
	Context   Info           `json:"context"`
}

// Response represents the plugin decision
type Response struct {
	Action     string `json:"action"`
	Message    string `json:"message,omitempty"`
	Name       string `json:"name,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
}

// Verdict converts the response for check type t. Unknown actions are
// ignored.
func (r Response) Verdict(t check.Type) check.Verdict {
	action, err := check.ParseAction(r.Action)
	if err != nil {
		log.Warn().Err(err).Str("plugin", r.Name).Msg("plugin returned unknown action")
		action = check.ActionIgnore
	}
	return check.Verdict{
		Action:     action,
		Type:       t,
		Message:    r.Message,
		Name:       r.Name,
		Confidence: r.Confidence,
	}
}

// Evaluator evaluates intercepted operations against one plugin
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Response, error)
	Close() error
}
