// Package matchup maps (offensive supercluster, defensive supercluster) pairs
// to matchup ids and builds the regression training set from possessions.
package matchup

import (
	"fmt"
)

// ID is an ordered matchup. Offense and defense styles are clustered
// independently, so (a, b) and (b, a) are different matchups.
type ID struct {
	Off int
	Def int
}

// Space is the Cartesian product of offensive and defensive superclusters.
type Space struct {
	KOff int
	KDef int
}

// Size is the number of possible matchups, KOff·KDef.
func (s Space) Size() int { return s.KOff * s.KDef }

// New validates and returns a matchup id.
func (s Space) New(off, def int) (ID, error) {
	if off < 0 || off >= s.KOff {
		return ID{}, fmt.Errorf("offensive supercluster %d out of range [0,%d)", off, s.KOff)
	}
	if def < 0 || def >= s.KDef {
		return ID{}, fmt.Errorf("defensive supercluster %d out of range [0,%d)", def, s.KDef)
	}
	return ID{Off: off, Def: def}, nil
}

// Index returns the dense index off·KDef + def.
func (s Space) Index(id ID) int { return id.Off*s.KDef + id.Def }

// FromIndex is the inverse of Index.
func (s Space) FromIndex(i int) (ID, error) {
	if i < 0 || i >= s.Size() {
		return ID{}, fmt.Errorf("matchup index %d out of range [0,%d)", i, s.Size())
	}
	return ID{Off: i / s.KDef, Def: i % s.KDef}, nil
}

// Label renders a dense index as "O<off>-D<def>".
func (s Space) Label(i int) string {
	id, err := s.FromIndex(i)
	if err != nil {
		return fmt.Sprintf("?%d", i)
	}
	return id.String()
}

func (id ID) String() string {
	return fmt.Sprintf("O%d-D%d", id.Off, id.Def)
}
