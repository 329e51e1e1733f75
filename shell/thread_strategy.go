package shell

import (
	"fmt"
	"strings"
)

// ThreadStrategyForRendering maps the four rendering roles (TASM, Layout, UI,
// JS) onto physical threads.
type ThreadStrategyForRendering int

const (
	// AllOnUI runs TASM and Layout on the UI thread.
	AllOnUI ThreadStrategyForRendering = iota
	// PartOnLayout gives Layout its own thread; TASM runs on a TASM thread.
	PartOnLayout
	// MostOnTASM runs TASM and Layout together on one TASM thread.
	MostOnTASM
	// MultiThreads gives TASM and Layout one thread each.
	MultiThreads
)

var strategyNames = map[ThreadStrategyForRendering]string{
	AllOnUI:      "all_on_ui",
	PartOnLayout: "part_on_layout",
	MostOnTASM:   "most_on_tasm",
	MultiThreads: "multi_threads",
}

func (s ThreadStrategyForRendering) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// IsValid reports whether s is one of the defined strategies.
func (s ThreadStrategyForRendering) IsValid() bool {
	_, ok := strategyNames[s]
	return ok
}

// IsEngineAsync reports whether UI operations are produced on a thread other
// than UI and must wait for the TASM and Layout phase gates.
func (s ThreadStrategyForRendering) IsEngineAsync() bool {
	return s == MostOnTASM || s == MultiThreads
}

// ParseThreadStrategy accepts the names printed by String, case-insensitively,
// with '-' or '_' separators.
func ParseThreadStrategy(name string) (ThreadStrategyForRendering, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for s, n := range strategyNames {
		if n == normalized {
			return s, nil
		}
	}
	return AllOnUI, fmt.Errorf("unknown thread strategy %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s ThreadStrategyForRendering) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid thread strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ThreadStrategyForRendering) UnmarshalText(text []byte) error {
	parsed, err := ParseThreadStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
