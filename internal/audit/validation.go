package audit

import (
	"encoding/json"
	"fmt"
)

func validateAlarm(a Alarm) error {
	if a.Kind != KindAttack && a.Kind != KindPolicy {
		return fmt.Errorf("invalid kind: %q", a.Kind)
	}

	if a.CheckType == "" {
		return fmt.Errorf("check_type cannot be empty")
	}

	if !isValidAction(a.Action) {
		return fmt.Errorf("invalid action: %q", a.Action)
	}

	if a.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}

	if len(a.Params) > 0 && !json.Valid(a.Params) {
		return fmt.Errorf("params must be valid JSON")
	}

	return nil
}

func isValidAction(action string) bool {
	return action == "ignore" || action == "log" || action == "block"
}
