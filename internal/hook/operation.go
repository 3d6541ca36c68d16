package hook

import (
	"github.com/dagbolade/rasp-agent/internal/pathpolicy"
	"github.com/dagbolade/rasp-agent/internal/request"
)

// Point names an interception point in the host.
type Point string

const (
	PointInclude  Point = "include"
	PointEval     Point = "eval"
	PointEcho     Point = "echo"
	PointFileOpen Point = "file.open"
	PointUnlink   Point = "file.unlink"
	PointRename   Point = "file.rename"
	PointOpenDir  Point = "dir.open"
	PointSQL      Point = "sql.query"
	PointSQLError Point = "sql.error"
	PointCommand  Point = "command.exec"
	PointHTTP     Point = "http.request"
	PointCallable Point = "callable"
	PointPutenv   Point = "putenv"
)

// Resource describes the file or stream an operation touches.
type Resource struct {
	Path           string
	Dest           string
	UseIncludePath bool
	Intents        pathpolicy.Intent
}

// Operation is the context supplied at an interception point.
type Operation struct {
	Point    Point
	Operands map[string]any
	Resource *Resource
	Request  *request.Context
}

// Operand returns a string operand, or "" when absent or not a string.
func (op *Operation) Operand(name string) string {
	if op == nil || op.Operands == nil {
		return ""
	}
	s, _ := op.Operands[name].(string)
	return s
}
