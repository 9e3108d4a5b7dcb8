package diag

import "sort"

// Severity grades a MissingInfo item.
type Severity string

const (
	// SeverityInfo marks a non-actionable note.
	SeverityInfo Severity = "info"
	// SeverityWarning marks a value that was computed but is suspect.
	SeverityWarning Severity = "warning"
	// SeverityBlocking marks a required value that could not be computed at all.
	SeverityBlocking Severity = "blocking"
)

// Evidence is a provenance pointer attached to a computed value.
type Evidence struct {
	Source string `json:"source"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// MissingInfo describes a missing or uncertain input. It is accumulated by
// value and attached to outputs; data-quality problems are never raised as
// errors.
type MissingInfo struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Trail collects the three diagnostic channels produced by one computation
// stage. Stages concatenate trails; nothing is shared or mutated in place.
type Trail struct {
	Evidence    []Evidence    `json:"evidence,omitempty"`
	Because     []string      `json:"because,omitempty"`
	MissingInfo []MissingInfo `json:"missingInfo,omitempty"`
}

// AddEvidence appends a provenance pointer.
func (t *Trail) AddEvidence(source, key, value string) {
	t.Evidence = append(t.Evidence, Evidence{Source: source, Key: key, Value: value})
}

// AddBecause appends a human-readable derivation step.
func (t *Trail) AddBecause(step string) {
	t.Because = append(t.Because, step)
}

// AddMissing appends a MissingInfo item.
func (t *Trail) AddMissing(id, category string, severity Severity, description string) {
	t.MissingInfo = append(t.MissingInfo, MissingInfo{ID: id, Category: category, Severity: severity, Description: description})
}

// Extend concatenates another trail onto this one.
func (t *Trail) Extend(other Trail) {
	t.Evidence = append(t.Evidence, other.Evidence...)
	t.Because = append(t.Because, other.Because...)
	t.MissingInfo = append(t.MissingInfo, other.MissingInfo...)
}

// HasBlocking reports whether any item is blocking.
func (t Trail) HasBlocking() bool {
	for _, m := range t.MissingInfo {
		if m.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// DedupeMissing returns the items with duplicate IDs removed, ordered by
// severity (blocking first) and then by ID for deterministic output.
func DedupeMissing(items []MissingInfo) []MissingInfo {
	seen := make(map[string]MissingInfo, len(items))
	for _, m := range items {
		if prev, ok := seen[m.ID]; ok && severityRank(prev.Severity) >= severityRank(m.Severity) {
			continue
		}
		seen[m.ID] = m
	}

	out := make([]MissingInfo, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if severityRank(out[i].Severity) != severityRank(out[j].Severity) {
			return severityRank(out[i].Severity) > severityRank(out[j].Severity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func severityRank(s Severity) int {
	switch s {
	case SeverityBlocking:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}
