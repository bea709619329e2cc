package execution

import (
	"strings"

	"github.com/praxisworks/actuator/core"
)

// ClassifyError buckets a pre-tool failure from its error and cause strings.
// Matching is substring-based on uppercase forms; typed codes should replace
// this once adapters propagate them end to end.
func ClassifyError(errStr, cause string) core.ErrorClass {
	combined := strings.ToUpper(errStr + " " + cause)
	switch {
	case strings.Contains(combined, "VALIDATION"),
		strings.Contains(combined, "INTENT_NOT_FOUND"),
		strings.Contains(combined, "INTENT_EXPIRED"),
		strings.Contains(combined, "KILL_SWITCH"),
		strings.Contains(combined, "CONFIGURATION"):
		return core.ErrorClassValidation
	case strings.Contains(combined, "AUTH"):
		return core.ErrorClassAuth
	}
	return core.ErrorClassUnknown
}
