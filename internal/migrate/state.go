package migrate

import "fmt"

// State is a step of a migration run
type State int

// State constants, in the order a successful run visits them
const (
	NotStarted State = iota
	Checking
	ResolvingPath
	ReadingRecords
	WritingDestination
	CleaningSource
	Done
	Failed
)

var stateNames = [...]string{
	NotStarted:         "not started",
	Checking:           "checking",
	ResolvingPath:      "resolving path",
	ReadingRecords:     "reading records",
	WritingDestination: "writing destination",
	CleaningSource:     "cleaning source",
	Done:               "done",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// MarshalText renders the state name in JSON and YAML reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown migration state %q", text)
}

// Observer is notified of every state transition of a run
type Observer func(from, to State)
