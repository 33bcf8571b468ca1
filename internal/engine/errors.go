// File path: internal/engine/errors.go
package engine

import "fmt"

// PlanningError marks an authoring problem: an unresolvable entity type or
// relation, or a malformed clause. It aborts the whole execution and is
// never retried.
type PlanningError struct {
	Message string
}

func (e *PlanningError) Error() string {
	return "planning: " + e.Message
}

func planningf(format string, args ...interface{}) error {
	return &PlanningError{Message: fmt.Sprintf(format, args...)}
}
