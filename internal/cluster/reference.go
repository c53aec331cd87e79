package cluster

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Reference is a named profile in the same space as the centroids.
type Reference struct {
	Name    string
	Profile []float64
}

// MatchReference names each centroid after its nearest reference profile.
// K-means numbering is an arbitrary permutation, so names must come from
// geometry, never from the label index. Pairs are taken greedily by global
// minimum distance and each reference is used at most once; centroids left
// without a reference are named "Archetype <i>".
func MatchReference(centroids [][]float64, refs []Reference) ([]string, error) {
	type pair struct {
		c, r int
		d    float64
	}
	var pairs []pair
	for r, ref := range refs {
		for c, cen := range centroids {
			if len(ref.Profile) != len(cen) {
				return nil, fmt.Errorf("reference %q has dimension %d, want %d", ref.Name, len(ref.Profile), len(cen))
			}
			pairs = append(pairs, pair{c, r, floats.Distance(cen, ref.Profile, 2)})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].d < pairs[j].d })

	names := make([]string, len(centroids))
	usedRef := make(map[int]bool, len(refs))
	for _, p := range pairs {
		if names[p.c] != "" || usedRef[p.r] {
			continue
		}
		names[p.c] = refs[p.r].Name
		usedRef[p.r] = true
	}
	for c := range names {
		if names[c] == "" {
			names[c] = fmt.Sprintf("Archetype %d", c)
		}
	}
	return names, nil
}
