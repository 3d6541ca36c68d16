package pathpolicy

import (
	"fmt"
	"strings"
)

// Intent is a bitwise combination of the operations a caller means to
// perform on a resource.
type Intent uint32

const (
	Read Intent = 1 << iota
	Write
	Append
	RenameSrc
	RenameDest
	Unlink
	OpenDir
	SimultaneousRW
)

// capabilityIntents need an explicit primitive from the stream handler.
const capabilityIntents = RenameSrc | RenameDest | Unlink | OpenDir

var intentNames = []struct {
	intent Intent
	name   string
}{
	{Read, "read"},
	{Write, "write"},
	{Append, "append"},
	{RenameSrc, "rename_src"},
	{RenameDest, "rename_dest"},
	{Unlink, "unlink"},
	{OpenDir, "opendir"},
	{SimultaneousRW, "simultaneous_rw"},
}

func (i Intent) Has(o Intent) bool {
	return i&o != 0
}

func (i Intent) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	for _, n := range intentNames {
		if i&n.intent != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseIntents combines intents named in configuration or on the command
// line. Names are case-insensitive.
func ParseIntents(names ...string) (Intent, error) {
	var out Intent
	for _, raw := range names {
		for _, name := range strings.Split(raw, "|") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			found := false
			for _, n := range intentNames {
				if n.name == name {
					out |= n.intent
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("unknown intent: %s", name)
			}
		}
	}
	return out, nil
}
