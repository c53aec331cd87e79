package model

import (
	"fmt"
	"strings"
)

const (
	NumFeatures      = 48 // per-player statistical features
	NumArchetypes    = 8  // K for player clustering
	NumSuperclusters = 6  // K for lineup clustering, per side
	LineupSize       = 5
)

// Side is the role a lineup plays on a possession.
type Side int

const (
	SideOffense Side = 0
	SideDefense Side = 1
)

func (s Side) String() string {
	switch s {
	case SideOffense:
		return "offense"
	case SideDefense:
		return "defense"
	default:
		return "?"
	}
}

// ParseSide accepts "offense"/"defense" (case-insensitive).
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offense", "off":
		return SideOffense, nil
	case "defense", "def":
		return SideDefense, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// ---- Inputs ----

// PlayerSeasonFeatures is one row of the external feature table.
type PlayerSeasonFeatures struct {
	PlayerID string
	Season   string
	Values   []float64 // len NumFeatures
}

// SkillRating is a player's offensive and defensive rating for one season.
type SkillRating struct {
	PlayerID  string
	Season    string
	Offensive float64
	Defensive float64
}

// ShotZone classifies the terminal shot of a possession, if any.
type ShotZone string

const (
	ShotNone  ShotZone = ""
	ShotRim   ShotZone = "rim"
	ShotMid   ShotZone = "mid"
	ShotThree ShotZone = "three"
)

// Possession is one row of the external possession log.
type Possession struct {
	GameID      string
	EventNum    int
	Season      string
	Home        [LineupSize]string
	Away        [LineupSize]string
	HomeOffense bool
	Points      int

	// Optional style attributes used for lineup aggregates.
	DurationSec float64
	Shot        ShotZone
	Assisted    bool
	Turnover    bool
	FTTrip      bool
	OffRebound  bool
}

// Offense returns the player ids of the lineup with the ball.
func (p *Possession) Offense() [LineupSize]string {
	if p.HomeOffense {
		return p.Home
	}
	return p.Away
}

// Defense returns the player ids of the lineup without the ball.
func (p *Possession) Defense() [LineupSize]string {
	if p.HomeOffense {
		return p.Away
	}
	return p.Home
}

// ---- Derived tables ----

// ArchetypeAssignment labels one (player, season) row.
type ArchetypeAssignment struct {
	PlayerID    string  `db:"player_id"`
	Season      string  `db:"season"`
	ArchetypeID int     `db:"archetype_id"`
	Name        string  `db:"archetype_name"`
	Distance    float64 `db:"distance"`
}

// LineupKey is the canonical, order-independent identity of a lineup's
// archetype composition, e.g. "0_2_2_5_7".
type LineupKey string

// AssignmentSource records how a supercluster id was obtained.
type AssignmentSource string

const (
	SourceTrained      AssignmentSource = "trained"
	SourceHashFallback AssignmentSource = "hash-fallback"
)

// SuperclusterAssignment maps a lineup key on one side to its style group.
type SuperclusterAssignment struct {
	Key            LineupKey
	Side           Side
	SuperclusterID int
	Source         AssignmentSource
	Possessions    int
}

// LowConfidence reports whether the id came from the hash fallback.
func (a SuperclusterAssignment) LowConfidence() bool {
	return a.Source == SourceHashFallback
}

// TrainingRow is one possession ready for the regression.
type TrainingRow struct {
	GameID   string
	EventNum int
	Outcome  int
	Matchup  int // dense matchup index, see matchup.ID.Index
	ZOff     [NumArchetypes]float64
	ZDef     [NumArchetypes]float64
}

// ---- Model outputs ----

// Variant selects the parameterisation of the regression.
type Variant string

const (
	VariantHierarchical Variant = "hierarchical"
	VariantPooled       Variant = "pooled"
)

// ParamSummary is the posterior summary of one scalar parameter.
type ParamSummary struct {
	Name string  `db:"param"`
	Mean float64 `db:"mean"`
	SD   float64 `db:"sd"`
	RHat float64 `db:"rhat"`
	ESS  float64 `db:"ess"`
}

// Coefficients are the posterior-mean coefficients for one matchup.
type Coefficients struct {
	Matchup int
	Variant Variant
	Beta0   float64
	BetaOff [NumArchetypes]float64
	BetaDef [NumArchetypes]float64
	Sigma   float64
}

// RunStatus is the lifecycle state of a model fit.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunAccepted  RunStatus = "accepted"
	RunRejected  RunStatus = "rejected"
	RunCancelled RunStatus = "cancelled"
)

// ModelRun describes one fit-model invocation.
type ModelRun struct {
	RunID       string    `db:"run_id"`
	CreatedAt   string    `db:"created_at"`
	Variant     Variant   `db:"variant"`
	Status      RunStatus `db:"status"`
	Rows        int       `db:"rows_used"`
	Chains      int       `db:"chains"`
	Warmup      int       `db:"warmup"`
	Samples     int       `db:"samples"`
	Seed        int64     `db:"seed"`
	Divergences int       `db:"divergences"`
	Note        string    `db:"note"`
}
