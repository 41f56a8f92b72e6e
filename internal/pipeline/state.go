package pipeline

import "fmt"

// State is a step of a single execution. Every execution walks the states in
// order and stops at Completed or Failed.
type State int

const (
	Idle State = iota
	ResolvingVariables
	PreScript
	Sending
	ResponseReceived
	PostScript
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ResolvingVariables:
		return "ResolvingVariables"
	case PreScript:
		return "PreScript"
	case Sending:
		return "Sending"
	case ResponseReceived:
		return "ResponseReceived"
	case PostScript:
		return "PostScript"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
