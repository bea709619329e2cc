// Package resilience wraps every tool-gateway call with circuit breaking,
// per-connector backpressure and SLO metric emission. Open-circuit behavior
// depends on the call type: execution calls fail fast, perception calls
// defer with a retry hint.
package resilience

import "strings"

// Well-known connector ids.
const (
	ConnectorInternal = "internal"
	ConnectorCRM      = "crm_salesforce"
	ConnectorCalendar = "calendar"
	ConnectorUnknown  = "unknown"
)

// DeriveConnector maps a tool name to its connector id by the first dotted
// segment: internal.* -> internal, crm.* -> crm_salesforce, calendar.* ->
// calendar; any other name uses its first segment. Empty and leading-dot
// names map to unknown.
func DeriveConnector(toolName string) string {
	first := toolName
	if i := strings.IndexByte(toolName, '.'); i >= 0 {
		first = toolName[:i]
	}
	switch first {
	case "":
		return ConnectorUnknown
	case "internal":
		return ConnectorInternal
	case "crm":
		return ConnectorCRM
	case "calendar":
		return ConnectorCalendar
	}
	return first
}
