// Package check defines the closed set of security check categories and
// the verdicts produced when one of them is evaluated.
package check

import (
	"fmt"
	"strings"
)

// Type is a security check category. Each type owns one bit of a Mask.
type Type uint8

const (
	SQL Type = iota
	SQLException
	Command
	Directory
	ReadFile
	WriteFile
	FileUpload
	Rename
	Unlink
	Copy
	Link
	Include
	Eval
	Callable
	SSRF
	XXE
	Deserialization
	Webdav
	XSSEcho
	XSSUserInput
	WebshellEval
	WebshellCommand
	WebshellFilePut
	WebshellCallable
	WebshellLDPreload
	PolicyAlarm

	typeCount
)

var typeNames = [typeCount]string{
	SQL:               "sql",
	SQLException:      "sql_exception",
	Command:           "command",
	Directory:         "directory",
	ReadFile:          "readFile",
	WriteFile:         "writeFile",
	FileUpload:        "fileUpload",
	Rename:            "rename",
	Unlink:            "unlink",
	Copy:              "copy",
	Link:              "link",
	Include:           "include",
	Eval:              "eval",
	Callable:          "callable",
	SSRF:              "ssrf",
	XXE:               "xxe",
	Deserialization:   "deserialization",
	Webdav:            "webdav",
	XSSEcho:           "xss_echo",
	XSSUserInput:      "xss_userinput",
	WebshellEval:      "webshell_eval",
	WebshellCommand:   "webshell_command",
	WebshellFilePut:   "webshell_file_put_contents",
	WebshellCallable:  "webshell_callable",
	WebshellLDPreload: "webshell_ld_preload",
	PolicyAlarm:       "policy",
}

// builtin types are evaluated natively rather than by plugins; their action
// is configured directly and "ignore" puts them into the static ignore mask.
var builtin = []Type{
	SQLException,
	Callable,
	XSSEcho,
	XSSUserInput,
	WebshellEval,
	WebshellCommand,
	WebshellFilePut,
	WebshellCallable,
	WebshellLDPreload,
}

// All returns every defined check type in declaration order.
func All() []Type {
	types := make([]Type, 0, typeCount)
	for t := Type(0); t < typeCount; t++ {
		types = append(types, t)
	}
	return types
}

// Builtin returns the natively evaluated check types.
func Builtin() []Type {
	out := make([]Type, len(builtin))
	copy(out, builtin)
	return out
}

func (t Type) Valid() bool {
	return t < typeCount
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("check(%d)", uint8(t))
	}
	return typeNames[t]
}

// Bit returns the mask bit owned by t, or zero for an undefined type.
func (t Type) Bit() Mask {
	if !t.Valid() {
		return 0
	}
	return Mask(1) << t
}

// ParseType looks a check type up by its configuration name.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, name) {
			return Type(t), nil
		}
	}
	return 0, fmt.Errorf("unknown check type: %s", name)
}

// Mask is a set of check types.
type Mask uint64

// MaskOf builds a mask containing the given types.
func MaskOf(types ...Type) Mask {
	var m Mask
	for _, t := range types {
		m |= t.Bit()
	}
	return m
}

// AllMask contains every defined check type.
func AllMask() Mask {
	return MaskOf(All()...)
}

func (m Mask) Has(t Type) bool {
	return t.Valid() && m&t.Bit() != 0
}

func (m Mask) With(t Type) Mask {
	return m | t.Bit()
}

// Types lists the members of m in declaration order.
func (m Mask) Types() []Type {
	var types []Type
	for t := Type(0); t < typeCount; t++ {
		if m.Has(t) {
			types = append(types, t)
		}
	}
	return types
}

func (m Mask) String() string {
	names := make([]string, 0)
	for _, t := range m.Types() {
		names = append(names, t.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}
