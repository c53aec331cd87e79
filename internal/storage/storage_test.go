package storage

import (
	"errors"
	"math"
	"testing"

	"github.com/pable/lineup-matchups/internal/model"
)

func openMemDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func featureRow(id, season string, base float64) model.PlayerSeasonFeatures {
	v := make([]float64, model.NumFeatures)
	for i := range v {
		v[i] = base + float64(i)
	}
	return model.PlayerSeasonFeatures{PlayerID: id, Season: season, Values: v}
}

func TestFeaturesRoundTrip(t *testing.T) {
	db := openMemDB(t)

	a := featureRow("p1", "2023", 0)
	a.Values[4] = math.NaN()
	if err := db.ReplaceFeatures([]model.PlayerSeasonFeatures{a, featureRow("p2", "2023", 100)}); err != nil {
		t.Fatalf("ReplaceFeatures: %v", err)
	}

	got, err := db.LoadFeatures()
	if err != nil {
		t.Fatalf("LoadFeatures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].PlayerID != "p1" || got[0].Values[47] != 47 {
		t.Errorf("unexpected first row: %s f47=%v", got[0].PlayerID, got[0].Values[47])
	}
	if !math.IsNaN(got[0].Values[4]) {
		t.Errorf("missing cell should load as NaN, got %v", got[0].Values[4])
	}
	if got[1].Values[0] != 100 {
		t.Errorf("p2 f0: want 100, got %v", got[1].Values[0])
	}
}

func TestReplaceFeaturesBySeason(t *testing.T) {
	db := openMemDB(t)

	if err := db.ReplaceFeatures([]model.PlayerSeasonFeatures{featureRow("p1", "2022", 0), featureRow("p1", "2023", 0)}); err != nil {
		t.Fatalf("ReplaceFeatures: %v", err)
	}
	// Reloading 2023 drops its old players but keeps 2022.
	if err := db.ReplaceFeatures([]model.PlayerSeasonFeatures{featureRow("p9", "2023", 5)}); err != nil {
		t.Fatalf("ReplaceFeatures: %v", err)
	}
	got, err := db.LoadFeatures()
	if err != nil {
		t.Fatalf("LoadFeatures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Season != "2022" || got[0].PlayerID != "p1" {
		t.Errorf("2022 row lost: %+v", got[0].PlayerID)
	}
	if got[1].Season != "2023" || got[1].PlayerID != "p9" {
		t.Errorf("2023 not replaced: %s", got[1].PlayerID)
	}
}

func TestSkillsRoundTrip(t *testing.T) {
	db := openMemDB(t)

	in := []model.SkillRating{
		{PlayerID: "p2", Season: "s1", Offensive: 1.25, Defensive: -0.5},
		{PlayerID: "p1", Season: "s1", Offensive: 0, Defensive: 2},
	}
	if err := db.ReplaceSkills(in); err != nil {
		t.Fatalf("ReplaceSkills: %v", err)
	}
	got, err := db.LoadSkills()
	if err != nil {
		t.Fatalf("LoadSkills: %v", err)
	}
	if len(got) != 2 || got[0] != in[1] || got[1] != in[0] {
		t.Errorf("unexpected skills: %+v", got)
	}
}

func TestPossessionsRoundTrip(t *testing.T) {
	db := openMemDB(t)

	p := model.Possession{
		GameID: "g1", EventNum: 7, Season: "s1",
		Home:        [5]string{"a", "b", "c", "d", "e"},
		Away:        [5]string{"v", "w", "x", "y", "z"},
		HomeOffense: true, Points: 3,
		DurationSec: 12.5, Shot: model.ShotThree, Assisted: true, OffRebound: true,
	}
	if err := db.ReplacePossessions([]model.Possession{p}); err != nil {
		t.Fatalf("ReplacePossessions: %v", err)
	}
	// Same key again must not fail.
	if err := db.ReplacePossessions([]model.Possession{p}); err != nil {
		t.Fatalf("second ReplacePossessions: %v", err)
	}
	got, err := db.LoadPossessions()
	if err != nil {
		t.Fatalf("LoadPossessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 possession, got %d", len(got))
	}
	if got[0] != p {
		t.Errorf("possession mismatch:\n got %+v\nwant %+v", got[0], p)
	}
}

func TestArchetypesReplace(t *testing.T) {
	db := openMemDB(t)

	first := []model.ArchetypeAssignment{
		{PlayerID: "p1", Season: "s1", ArchetypeID: 2, Name: "Stretch Big", Distance: 0.5},
		{PlayerID: "p2", Season: "s1", ArchetypeID: 2, Name: "Stretch Big", Distance: 1.5},
		{PlayerID: "p3", Season: "s1", ArchetypeID: 5, Name: "Archetype 5", Distance: 0.1},
	}
	if err := db.ReplaceArchetypes(first); err != nil {
		t.Fatalf("ReplaceArchetypes: %v", err)
	}
	counts, err := db.ArchetypeCounts()
	if err != nil {
		t.Fatalf("ArchetypeCounts: %v", err)
	}
	if len(counts) != 2 || counts[0].Players != 2 || counts[0].Name != "Stretch Big" {
		t.Errorf("unexpected counts: %+v", counts)
	}

	if err := db.ReplaceArchetypes(first[:1]); err != nil {
		t.Fatalf("ReplaceArchetypes: %v", err)
	}
	got, err := db.LoadArchetypes()
	if err != nil {
		t.Fatalf("LoadArchetypes: %v", err)
	}
	if len(got) != 1 || got[0] != first[0] {
		t.Errorf("expected only p1 after replace, got %+v", got)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	db := openMemDB(t)

	type blob struct {
		Center []float64 `json:"center"`
		K      int       `json:"k"`
	}
	var out blob
	ok, err := db.LoadArtifact("scaler", &out)
	if err != nil || ok {
		t.Fatalf("missing artifact: ok=%v err=%v", ok, err)
	}

	if err := db.SaveArtifact("scaler", blob{Center: []float64{1, 2}, K: 8}); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if err := db.SaveArtifact("scaler", blob{Center: []float64{3}, K: 6}); err != nil {
		t.Fatalf("SaveArtifact overwrite: %v", err)
	}
	ok, err = db.LoadArtifact("scaler", &out)
	if err != nil || !ok {
		t.Fatalf("LoadArtifact: ok=%v err=%v", ok, err)
	}
	if out.K != 6 || len(out.Center) != 1 {
		t.Errorf("expected overwritten artifact, got %+v", out)
	}
}

func TestSuperclustersRoundTrip(t *testing.T) {
	db := openMemDB(t)

	in := []model.SuperclusterAssignment{
		{Key: "0_2_2_5_7", Side: model.SideOffense, SuperclusterID: 3, Source: model.SourceTrained, Possessions: 40},
		{Key: "1_1_1_3_3", Side: model.SideOffense, SuperclusterID: 0, Source: model.SourceHashFallback, Possessions: 2},
		{Key: "0_2_2_5_7", Side: model.SideDefense, SuperclusterID: 1, Source: model.SourceTrained, Possessions: 38},
	}
	if err := db.ReplaceSuperclusters(in); err != nil {
		t.Fatalf("ReplaceSuperclusters: %v", err)
	}
	got, err := db.LoadSuperclusters()
	if err != nil {
		t.Fatalf("LoadSuperclusters: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("assignment %d: got %+v want %+v", i, got[i], in[i])
		}
	}
	if !got[1].LowConfidence() {
		t.Error("hash fallback should stay low confidence after reload")
	}
}

func TestTrainingRowsRoundTrip(t *testing.T) {
	db := openMemDB(t)

	r := model.TrainingRow{
		GameID: "g1", EventNum: 3, Outcome: 2, Matchup: 19,
		ZOff: [8]float64{3, 0, 3, 0, 0, 0.5, 0, 1.5},
		ZDef: [8]float64{0, 2, 0, 3, 0, 0, 0, 0},
	}
	if err := db.ReplaceTrainingRows([]model.TrainingRow{r, {GameID: "g0", EventNum: 1}}); err != nil {
		t.Fatalf("ReplaceTrainingRows: %v", err)
	}
	got, err := db.LoadTrainingRows()
	if err != nil {
		t.Fatalf("LoadTrainingRows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[1] != r {
		t.Errorf("row mismatch:\n got %+v\nwant %+v", got[1], r)
	}
}

func newRun(t *testing.T, db *DB) *model.ModelRun {
	t.Helper()
	run := &model.ModelRun{Variant: model.VariantPooled, Rows: 400, Chains: 4, Warmup: 100, Samples: 100, Seed: 42}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestRunAccept(t *testing.T) {
	db := openMemDB(t)
	run := newRun(t, db)
	if run.RunID == "" || run.Status != model.RunRunning {
		t.Fatalf("CreateRun should assign id and running status, got %+v", run)
	}

	summary := []model.ParamSummary{
		{Name: "beta_0", Mean: 1, SD: 0.1, RHat: 1.001, ESS: 900},
		{Name: "sigma", Mean: 2, SD: 0.2, RHat: math.NaN(), ESS: math.NaN()},
	}
	if err := db.SaveDiagnostics(run.RunID, summary); err != nil {
		t.Fatalf("SaveDiagnostics: %v", err)
	}
	draws := [][][]float64{{{1, 2}, {1.5, 2.5}}, {{0.5, 1}}}
	if err := db.SaveDraws(run.RunID, draws); err != nil {
		t.Fatalf("SaveDraws: %v", err)
	}

	// Nothing is published while the run is running.
	coefs, _ := db.GetCoefficients(run.RunID)
	if len(coefs) != 0 {
		t.Fatalf("expected no coefficients before accept, got %d", len(coefs))
	}

	in := []model.Coefficients{{Matchup: 5, Variant: model.VariantPooled, Beta0: 1.1, BetaOff: [8]float64{0.5}, BetaDef: [8]float64{7: -0.25}, Sigma: 1.9}}
	if err := db.AcceptRun(run.RunID, 0, in); err != nil {
		t.Fatalf("AcceptRun: %v", err)
	}
	coefs, err := db.GetCoefficients(run.RunID)
	if err != nil {
		t.Fatalf("GetCoefficients: %v", err)
	}
	if len(coefs) != 1 || coefs[0] != in[0] {
		t.Errorf("coefficients mismatch: %+v", coefs)
	}

	latest, err := db.LatestAcceptedRun()
	if err != nil || latest == nil || latest.RunID != run.RunID {
		t.Fatalf("LatestAcceptedRun: %+v err=%v", latest, err)
	}
	if latest.Status != model.RunAccepted || latest.Rows != 400 || latest.Seed != 42 {
		t.Errorf("unexpected accepted run: %+v", latest)
	}

	diag, err := db.LoadDiagnostics(run.RunID)
	if err != nil {
		t.Fatalf("LoadDiagnostics: %v", err)
	}
	if len(diag) != 2 || diag[0].ESS != 900 || !math.IsNaN(diag[1].RHat) {
		t.Errorf("diagnostics mismatch: %+v", diag)
	}
	gotDraws, err := db.LoadDraws(run.RunID)
	if err != nil {
		t.Fatalf("LoadDraws: %v", err)
	}
	if len(gotDraws) != 2 || len(gotDraws[0]) != 2 || gotDraws[0][1][1] != 2.5 || gotDraws[1][0][0] != 0.5 {
		t.Errorf("draws mismatch: %v", gotDraws)
	}

	if err := db.AcceptRun(run.RunID, 0, in); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("second accept: want ErrRunNotRunning, got %v", err)
	}
}

func TestRunRejectKeepsDraws(t *testing.T) {
	db := openMemDB(t)
	run := newRun(t, db)

	if err := db.SaveDraws(run.RunID, [][][]float64{{{1}}}); err != nil {
		t.Fatalf("SaveDraws: %v", err)
	}
	if err := db.FinishRun(run.RunID, model.RunRejected, 3, "rhat[sigma] FAIL"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err := db.GetRunByPrefix(run.RunID[:8])
	if err != nil || got == nil {
		t.Fatalf("GetRunByPrefix: %+v err=%v", got, err)
	}
	if got.Status != model.RunRejected || got.Divergences != 3 || got.Note != "rhat[sigma] FAIL" {
		t.Errorf("unexpected rejected run: %+v", got)
	}
	draws, _ := db.LoadDraws(run.RunID)
	if len(draws) != 1 {
		t.Errorf("rejected run should keep its draws")
	}
	if latest, _ := db.LatestAcceptedRun(); latest != nil {
		t.Errorf("no run should be accepted, got %s", latest.RunID)
	}
	if err := db.FinishRun(run.RunID, model.RunCancelled, 0, ""); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("finishing twice: want ErrRunNotRunning, got %v", err)
	}
	if err := db.FinishRun(run.RunID, model.RunAccepted, 0, ""); err == nil {
		t.Error("FinishRun must refuse accepted")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	db := openMemDB(t)
	newRun(t, db)
	newRun(t, db)

	got, err := db.GetRunByPrefix("zzzz")
	if err != nil || got != nil {
		t.Errorf("unknown prefix: want nil,nil got %+v, %v", got, err)
	}
	if _, err := db.GetRunByPrefix(""); !errors.Is(err, ErrAmbiguousPrefix) {
		t.Errorf("empty prefix: want ErrAmbiguousPrefix, got %v", err)
	}
	runs, err := db.ListRuns()
	if err != nil || len(runs) != 2 {
		t.Fatalf("ListRuns: %d runs, err=%v", len(runs), err)
	}
}

func TestOverviewAndQueryRaw(t *testing.T) {
	db := openMemDB(t)
	if err := db.ReplaceSkills([]model.SkillRating{{PlayerID: "p1", Season: "s1", Offensive: 1, Defensive: 2}}); err != nil {
		t.Fatalf("ReplaceSkills: %v", err)
	}

	counts, err := db.Overview()
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	for _, c := range counts {
		want := 0
		if c.Table == "skill_ratings" {
			want = 1
		}
		if c.Rows != want {
			t.Errorf("%s: want %d rows, got %d", c.Table, want, c.Rows)
		}
	}

	cols, rows, err := db.QueryRaw("SELECT player_id, off_rating, NULL AS x FROM skill_ratings")
	if err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}
	if len(cols) != 3 || cols[2] != "x" {
		t.Errorf("unexpected columns %v", cols)
	}
	if len(rows) != 1 || rows[0][0] != "p1" || rows[0][1] != "1" || rows[0][2] != "NULL" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestClearDerivedKeepsInputs(t *testing.T) {
	db := openMemDB(t)
	if err := db.ReplaceSkills([]model.SkillRating{{PlayerID: "p1", Season: "s1", Offensive: 1, Defensive: 2}}); err != nil {
		t.Fatalf("ReplaceSkills: %v", err)
	}
	if err := db.ReplaceTrainingRows([]model.TrainingRow{{GameID: "g1", EventNum: 1, Outcome: 2}}); err != nil {
		t.Fatalf("ReplaceTrainingRows: %v", err)
	}
	run := newRun(t, db)
	if err := db.SaveDraws(run.RunID, [][][]float64{{{1}}}); err != nil {
		t.Fatalf("SaveDraws: %v", err)
	}

	cleared, err := db.ClearDerived()
	if err != nil {
		t.Fatalf("ClearDerived: %v", err)
	}
	removed := make(map[string]int)
	for _, c := range cleared {
		removed[c.Table] = c.Rows
	}
	if removed["training_rows"] != 1 || removed["model_runs"] != 1 || removed["posterior_draws"] != 1 {
		t.Errorf("unexpected removal counts: %+v", cleared)
	}

	counts, err := db.Overview()
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	for _, c := range counts {
		want := 0
		if c.Table == "skill_ratings" {
			want = 1
		}
		if c.Rows != want {
			t.Errorf("%s: want %d rows, got %d", c.Table, want, c.Rows)
		}
	}
}
