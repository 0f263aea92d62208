package terminology

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// MissingCodeError reports a blank or placeholder code.
type MissingCodeError struct {
	System System
	Code   string
	Label  string
}

func (e *MissingCodeError) Error() string {
	return fmt.Sprintf("no code found for %s:%s", e.System, e.Label)
}

// DuplicateCodeError reports a code already registered under the same system.
type DuplicateCodeError struct {
	System   System
	Code     string
	Existing CodeEntry
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("duplicate %s code %s (already registered as %q)", e.System, e.Code, e.Existing.Label)
}

// Status is the outcome of a registration attempt.
type Status int

const (
	Registered Status = iota
	Duplicate
	Missing
)

func (s Status) String() string {
	switch s {
	case Registered:
		return "registered"
	case Duplicate:
		return "duplicate"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// Registration is the explicit result of Registry.Register. Entry is only
// meaningful when Status is Registered; for Duplicate it holds the entry that
// was already present.
type Registration struct {
	Status Status
	Entry  CodeEntry
	err    error
}

// OK reports whether the entry was newly registered.
func (r Registration) OK() bool { return r.Status == Registered }

// Err returns the typed registration defect, or nil.
func (r Registration) Err() error { return r.err }

// Registry holds the code entries of one study run, one ordered collection
// per terminology system. It is built once and then read concurrently without
// locks, so Register must not be called after the build phase.
type Registry struct {
	codes map[System]map[string]CodeEntry
	order map[System][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		codes: make(map[System]map[string]CodeEntry),
		order: make(map[System][]string),
	}
}

// Register adds code under system. The code is normalized to CURIE form
// first; uniqueness is checked against the per-system collection.
func (r *Registry) Register(system System, code, label string) Registration {
	if IsPlaceholder(code) {
		return Registration{
			Status: Missing,
			err:    &MissingCodeError{System: system, Code: code, Label: label},
		}
	}
	code = NormalizeCode(code)

	bySystem, ok := r.codes[system]
	if !ok {
		bySystem = make(map[string]CodeEntry)
		r.codes[system] = bySystem
	}
	if existing, dup := bySystem[code]; dup {
		return Registration{
			Status: Duplicate,
			Entry:  existing,
			err:    &DuplicateCodeError{System: system, Code: code, Existing: existing},
		}
	}

	entry := CodeEntry{System: system, Code: code, Label: label}
	bySystem[code] = entry
	r.order[system] = append(r.order[system], code)
	return Registration{Status: Registered, Entry: entry}
}

// Lookup returns the entry for code under system.
func (r *Registry) Lookup(system System, code string) (CodeEntry, bool) {
	e, ok := r.codes[system][NormalizeCode(code)]
	return e, ok
}

// Dump returns the entries of system in insertion order.
func (r *Registry) Dump(system System) []CodeEntry {
	codes := r.order[system]
	out := make([]CodeEntry, 0, len(codes))
	for _, c := range codes {
		out = append(out, r.codes[system][c])
	}
	return out
}

// Len returns the number of entries registered under system.
func (r *Registry) Len(system System) int {
	return len(r.order[system])
}

// Systems returns the systems holding at least one entry, in AllSystems
// order followed by any others sorted by name.
func (r *Registry) Systems() []System {
	var out []System
	known := make(map[System]bool, len(AllSystems))
	for _, s := range AllSystems {
		known[s] = true
		if len(r.order[s]) > 0 {
			out = append(out, s)
		}
	}
	var extra []System
	for s, codes := range r.order {
		if !known[s] && len(codes) > 0 {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// WriteFSH writes the human readable terminology export: one block per
// system, one `* #code "label"` line per entry.
func (r *Registry) WriteFSH(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, s := range r.Systems() {
		fmt.Fprintf(bw, "/* %s */\n", s)
		for _, e := range r.Dump(s) {
			fmt.Fprintf(bw, "* #%s %q\n", e.Code, e.Label)
		}
		bw.WriteString("\n\n")
	}
	return bw.Flush()
}
