package planner

import "fmt"

// PlanningError reports a malformed plan detected before any stage runs,
// e.g. an Exchange carrying an unsupported partitioning spec. It is fatal
// to the query.
type PlanningError struct {
	Msg string
}

func (e *PlanningError) Error() string { return "planning error: " + e.Msg }

func planningErrorf(format string, args ...interface{}) *PlanningError {
	return &PlanningError{Msg: fmt.Sprintf(format, args...)}
}
