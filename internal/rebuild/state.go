package rebuild

import "fmt"

// State is a step of a rebuild run. Runs move forward through the states in
// declaration order and end in Done or Failed.
type State int

const (
	StateIdle State = iota
	StateFetchingCurrentAlias
	StateCreatingGeneration
	StateFetchingSource
	StateParsingSource
	StateTransforming
	StateIndexingCities
	StateIndexingBaggers
	StateSwappingAlias
	StateCollectingGarbage
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                 "Idle",
	StateFetchingCurrentAlias: "FetchingCurrentAlias",
	StateCreatingGeneration:   "CreatingGeneration",
	StateFetchingSource:       "FetchingSource",
	StateParsingSource:        "ParsingSource",
	StateTransforming:         "Transforming",
	StateIndexingCities:       "IndexingCities",
	StateIndexingBaggers:      "IndexingBaggers",
	StateSwappingAlias:        "SwappingAlias",
	StateCollectingGarbage:    "CollectingGarbage",
	StateDone:                 "Done",
	StateFailed:               "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the State named name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateIdle, fmt.Errorf("unknown rebuild state %q", name)
}
