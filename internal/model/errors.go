package model

import (
	"fmt"
	"strings"
)

// DataMissingError reports an upstream table with too few rows to proceed.
type DataMissingError struct {
	Table string
	Have  int
	Need  int
}

func (e *DataMissingError) Error() string {
	return fmt.Sprintf("data missing: %s has %d rows, need at least %d", e.Table, e.Have, e.Need)
}

// InsufficientClusterabilityError reports data that cannot support K clusters.
type InsufficientClusterabilityError struct {
	Distinct int
	K        int
	Reason   string
}

func (e *InsufficientClusterabilityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient clusterability: %s (%d distinct rows, k=%d)", e.Reason, e.Distinct, e.K)
	}
	return fmt.Sprintf("insufficient clusterability: %d distinct rows, k=%d", e.Distinct, e.K)
}

// Exclusion reasons for possessions that cannot become training rows.
const (
	ReasonMissingArchetype   = "missing_archetype"
	ReasonMissingSkill       = "missing_skill"
	ReasonFallbackDisallowed = "fallback_disallowed"
)

// MissingPlayer names one player lacking coverage and why.
type MissingPlayer struct {
	PlayerID string
	Reason   string
}

// LineupIncompleteError is returned for a possession with at least one
// uncovered player. When Total > 0 it instead summarises a batch whose drop
// rate exceeded the configured ceiling.
type LineupIncompleteError struct {
	GameID   string
	EventNum int
	Missing  []MissingPlayer

	Dropped int
	Total   int
	Ceiling float64
}

func (e *LineupIncompleteError) Error() string {
	if e.Total > 0 {
		return fmt.Sprintf("lineup incomplete: dropped %d of %d possessions (%.1f%%), ceiling %.1f%%",
			e.Dropped, e.Total, 100*float64(e.Dropped)/float64(e.Total), 100*e.Ceiling)
	}
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = m.PlayerID + ":" + m.Reason
	}
	return fmt.Sprintf("lineup incomplete: game %s event %d [%s]", e.GameID, e.EventNum, strings.Join(parts, ", "))
}

// Reason returns the dominant exclusion reason. A missing archetype outranks
// a missing skill rating because it prevents canonicalization.
func (e *LineupIncompleteError) Reason() string {
	reason := ""
	for _, m := range e.Missing {
		if m.Reason == ReasonMissingArchetype {
			return m.Reason
		}
		if reason == "" {
			reason = m.Reason
		}
	}
	return reason
}
