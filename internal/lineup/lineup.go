// Package lineup canonicalizes five-player lineups by archetype composition
// and resolves possession lineups against archetype and skill coverage.
package lineup

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pable/lineup-matchups/internal/model"
)

// Separator joins archetype ids in a LineupKey.
const Separator = "_"

var ErrBadKey = errors.New("malformed lineup key")

// Canonicalize returns the order-independent key of a lineup. Duplicate
// archetypes are kept, so {2,2,5,0,7} becomes "0_2_2_5_7".
func Canonicalize(ids [model.LineupSize]int) (model.LineupKey, error) {
	sorted := ids
	sort.Ints(sorted[:])
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		if id < 0 || id >= model.NumArchetypes {
			return "", fmt.Errorf("archetype id %d out of range [0,%d)", id, model.NumArchetypes)
		}
		parts[i] = strconv.Itoa(id)
	}
	return model.LineupKey(strings.Join(parts, Separator)), nil
}

// ParseKey is the inverse of Canonicalize.
func ParseKey(key model.LineupKey) ([model.LineupSize]int, error) {
	var ids [model.LineupSize]int
	parts := strings.Split(string(key), Separator)
	if len(parts) != model.LineupSize {
		return ids, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil || id < 0 || id >= model.NumArchetypes {
			return ids, fmt.Errorf("%w: %q", ErrBadKey, key)
		}
		ids[i] = id
	}
	if !sort.IntsAreSorted(ids[:]) {
		return ids, fmt.Errorf("%w: %q not canonical", ErrBadKey, key)
	}
	return ids, nil
}

// Composition counts players per archetype in a key.
func Composition(key model.LineupKey) ([model.NumArchetypes]int, error) {
	var counts [model.NumArchetypes]int
	ids, err := ParseKey(key)
	if err != nil {
		return counts, err
	}
	for _, id := range ids {
		counts[id]++
	}
	return counts, nil
}
