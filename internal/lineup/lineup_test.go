package lineup

import (
	"errors"
	"math"
	"testing"

	"github.com/pable/lineup-matchups/internal/model"
)

// permutations returns every ordering of ids.
func permutations(ids []int) [][]int {
	if len(ids) <= 1 {
		return [][]int{append([]int(nil), ids...)}
	}
	var out [][]int
	for i := range ids {
		rest := append(append([]int(nil), ids[:i]...), ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{ids[i]}, p...))
		}
	}
	return out
}

func TestCanonicalize_WorkedExample(t *testing.T) {
	key, err := Canonicalize([5]int{2, 2, 5, 0, 7})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if key != "0_2_2_5_7" {
		t.Errorf("key: want 0_2_2_5_7, got %s", key)
	}
}

func TestCanonicalize_OrderInvariant(t *testing.T) {
	for _, base := range [][]int{{2, 2, 5, 0, 7}, {1, 1, 1, 1, 1}, {0, 1, 2, 3, 4}, {7, 6, 6, 3, 3}} {
		var want model.LineupKey
		for i, p := range permutations(base) {
			key, err := Canonicalize([5]int{p[0], p[1], p[2], p[3], p[4]})
			if err != nil {
				t.Fatalf("Canonicalize(%v): %v", p, err)
			}
			if i == 0 {
				want = key
				continue
			}
			if key != want {
				t.Fatalf("permutation %v: want %s, got %s", p, want, key)
			}
		}
	}
}

func TestCanonicalize_DoesNotMutateInput(t *testing.T) {
	in := [5]int{4, 3, 2, 1, 0}
	if _, err := Canonicalize(in); err != nil {
		t.Fatal(err)
	}
	if in != [5]int{4, 3, 2, 1, 0} {
		t.Errorf("input mutated: %v", in)
	}
}

func TestCanonicalize_OutOfRange(t *testing.T) {
	if _, err := Canonicalize([5]int{0, 1, 2, 3, 8}); err == nil {
		t.Error("expected error for archetype 8")
	}
	if _, err := Canonicalize([5]int{-1, 1, 2, 3, 4}); err == nil {
		t.Error("expected error for archetype -1")
	}
}

func TestParseKey(t *testing.T) {
	ids, err := ParseKey("0_2_2_5_7")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if ids != [5]int{0, 2, 2, 5, 7} {
		t.Errorf("ids: got %v", ids)
	}
	for _, bad := range []model.LineupKey{"", "0_2_2_5", "0_2_2_5_9", "7_2_2_5_0", "a_b_c_d_e"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrBadKey) {
			t.Errorf("ParseKey(%q): want ErrBadKey, got %v", bad, err)
		}
	}
}

func TestComposition(t *testing.T) {
	c, err := Composition("0_2_2_5_7")
	if err != nil {
		t.Fatal(err)
	}
	want := [8]int{1, 0, 2, 0, 0, 1, 0, 1}
	if c != want {
		t.Errorf("composition: want %v, got %v", want, c)
	}
}

func makeResolver() *Resolver {
	archetypes := []model.ArchetypeAssignment{
		{PlayerID: "a", Season: "s1", ArchetypeID: 2},
		{PlayerID: "b", Season: "s1", ArchetypeID: 2},
		{PlayerID: "c", Season: "s1", ArchetypeID: 5},
		{PlayerID: "d", Season: "s1", ArchetypeID: 0},
		{PlayerID: "e", Season: "s1", ArchetypeID: 7},
		{PlayerID: "f", Season: "s1", ArchetypeID: 1},
	}
	skills := []model.SkillRating{
		{PlayerID: "a", Season: "s1", Offensive: 1.0, Defensive: 0.5},
		{PlayerID: "b", Season: "s1", Offensive: 2.0, Defensive: 0.5},
		{PlayerID: "c", Season: "s1", Offensive: 0.5, Defensive: 1.5},
		{PlayerID: "d", Season: "s1", Offensive: -1.0, Defensive: 0.0},
		{PlayerID: "e", Season: "s1", Offensive: 3.0, Defensive: -0.5},
		{PlayerID: "g", Season: "s1", Offensive: 1.0, Defensive: 1.0},
	}
	return NewResolver(archetypes, skills)
}

func TestResolver_Resolve(t *testing.T) {
	r := makeResolver()
	res, err := r.Resolve("s1", [5]string{"e", "a", "c", "b", "d"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Key != "0_2_2_5_7" {
		t.Errorf("key: got %s", res.Key)
	}
	if res.Offensive[0] != 3.0 || res.Archetypes[0] != 7 {
		t.Errorf("player order not preserved: %+v", res)
	}
}

func TestResolver_ExclusionReasons(t *testing.T) {
	r := makeResolver()

	// f has an archetype but no skill rating; g has a rating but no archetype.
	_, err := r.Resolve("s1", [5]string{"a", "b", "c", "d", "f"})
	var lie *model.LineupIncompleteError
	if !errors.As(err, &lie) {
		t.Fatalf("want LineupIncompleteError, got %v", err)
	}
	if lie.Reason() != model.ReasonMissingSkill {
		t.Errorf("reason: want %s, got %s", model.ReasonMissingSkill, lie.Reason())
	}

	_, err = r.Resolve("s1", [5]string{"a", "b", "c", "f", "g"})
	if !errors.As(err, &lie) {
		t.Fatalf("want LineupIncompleteError, got %v", err)
	}
	if len(lie.Missing) != 2 {
		t.Errorf("want 2 missing players, got %d", len(lie.Missing))
	}
	if lie.Reason() != model.ReasonMissingArchetype {
		t.Errorf("reason: want %s, got %s", model.ReasonMissingArchetype, lie.Reason())
	}

	// Wrong season: nothing is covered.
	if _, err := r.Resolve("s2", [5]string{"a", "b", "c", "d", "e"}); !errors.As(err, &lie) {
		t.Errorf("want LineupIncompleteError for unknown season, got %v", err)
	}
}

func TestResolver_NonFiniteRatingIsMissingSkill(t *testing.T) {
	archetypes := []model.ArchetypeAssignment{
		{PlayerID: "a", Season: "s1", ArchetypeID: 0},
		{PlayerID: "b", Season: "s1", ArchetypeID: 1},
		{PlayerID: "c", Season: "s1", ArchetypeID: 2},
		{PlayerID: "d", Season: "s1", ArchetypeID: 3},
		{PlayerID: "e", Season: "s1", ArchetypeID: 4},
	}
	skills := []model.SkillRating{
		{PlayerID: "a", Season: "s1", Offensive: math.NaN(), Defensive: 1},
		{PlayerID: "b", Season: "s1", Offensive: 1, Defensive: math.Inf(-1)},
		{PlayerID: "c", Season: "s1", Offensive: 1, Defensive: 1},
		{PlayerID: "d", Season: "s1", Offensive: 1, Defensive: 1},
		{PlayerID: "e", Season: "s1", Offensive: 1, Defensive: 1},
	}
	r := NewResolver(archetypes, skills)

	_, err := r.Resolve("s1", [5]string{"a", "b", "c", "d", "e"})
	var lie *model.LineupIncompleteError
	if !errors.As(err, &lie) {
		t.Fatalf("want LineupIncompleteError, got %v", err)
	}
	if len(lie.Missing) != 2 {
		t.Fatalf("want 2 missing players, got %+v", lie.Missing)
	}
	for _, m := range lie.Missing {
		if m.Reason != model.ReasonMissingSkill {
			t.Errorf("%s: want %s, got %s", m.PlayerID, model.ReasonMissingSkill, m.Reason)
		}
	}
}

func TestResolver_KeyOnly(t *testing.T) {
	r := makeResolver()
	key, ok := r.KeyOnly("s1", [5]string{"a", "b", "c", "d", "f"})
	if !ok || key != "0_1_2_2_5" {
		t.Errorf("KeyOnly: got %q ok=%v", key, ok)
	}
	if _, ok := r.KeyOnly("s1", [5]string{"a", "b", "c", "d", "g"}); ok {
		t.Error("expected KeyOnly to fail for player without archetype")
	}
}
