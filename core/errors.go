package core

import (
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a conversation for the given id does not
	// exist in the underlying store.
	ErrNotFound = fmt.Errorf("conversation not found")
	// ErrInvalidTransition is returned for lifecycle steps the state machine
	// does not permit.
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	// ErrConversationClosed is returned when an operation targets a completed
	// conversation.
	ErrConversationClosed = fmt.Errorf("conversation already completed")
)

// ValidationError reports missing or invalid fields on a single item. It is
// deliberately granular so callers can attempt partial success: invalid items
// are reported individually while valid siblings proceed.
type ValidationError struct {
	// Missing lists required fields with empty values.
	Missing []string
	// Invalid maps field names to the offending value.
	Invalid map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		fields := make([]string, 0, len(e.Invalid))
		for k, v := range e.Invalid {
			fields = append(fields, fmt.Sprintf("%s=%q", k, v))
		}
		sort.Strings(fields)
		parts = append(parts, fmt.Sprintf("invalid fields: %s", strings.Join(fields, ", ")))
	}
	if len(parts) == 0 {
		return "validation failed"
	}
	return strings.Join(parts, "; ")
}
