package polling

import "strings"

// Outcome is the collapsed lifecycle of a backend message.
type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

var (
	successStates = []string{"COMPLETED"}
	failureStates = []string{"FAILED", "CANCELLED", "CANCELED", "ABORTED"}
)

// Evaluate classifies a backend status. Unknown values are Pending so that
// vendor drift keeps us polling instead of failing.
func Evaluate(status string) Outcome {
	s := strings.ToUpper(strings.TrimSpace(status))
	if s == "" {
		return Pending
	}
	for _, state := range successStates {
		if strings.Contains(s, state) {
			return Succeeded
		}
	}
	for _, state := range failureStates {
		if strings.Contains(s, state) {
			return Failed
		}
	}
	return Pending
}
