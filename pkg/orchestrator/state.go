package orchestrator

// State is a request's position in the admission pipeline.
type State int32

const (
	StateInit State = iota
	StateRateChecked
	StateClaimed
	StateSlotted
	StateResolvingModel
	StateCallingUpstream
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:            "INIT",
	StateRateChecked:     "RATE_CHECKED",
	StateClaimed:         "CLAIMED",
	StateSlotted:         "SLOTTED",
	StateResolvingModel:  "RESOLVING_MODEL",
	StateCallingUpstream: "CALLING_UPSTREAM",
	StateFinalizing:      "FINALIZING",
	StateDone:            "DONE",
	StateFailed:          "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether s is DONE or FAILED.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
