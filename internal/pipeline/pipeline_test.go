package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/domain/subject"
	"github.com/include/ingest/internal/emit"
	"github.com/include/ingest/internal/platform/changelog"
	"github.com/include/ingest/internal/platform/telemetry"
)

const (
	mergeTable = "CDE Variable,study_col\n" +
		"HTN,hypertension_flag\n"
	dictionaryTable = "Variable / Field Name,HPO ID,HPO Label,Mondo ID,Mondo Label,ICD code\n" +
		"HTN,HP_0000822,Hypertension,N/A,,I10\n"

	participantTable = "participantid\tfamilyid\tsex\tcohort_type\trace\tethnicity\tmrabstractionstatus\n" +
		"P2\tF1\tFemale\tDown syndrome\tWhite\tNot Hispanic or Latino\tComplete\n" +
		"P1\tF1\tMale\tControl\tAsian\tHispanic or Latino\tIncomplete\n"
	conditionTable = "participantid\tcondition_code\tcondition_status\n" +
		"P1\thypertension_flag\tTRUE\n" +
		"P2\tseizure_disorder\tFALSE\n"
	diseaseTable = "participantid\tkaryotype\tds_diagnosis\tofficialdsdiagnosis\n" +
		"P2\tTrisomy 21\tDown syndrome\tDown syndrome\n"
	encounterTable = "participantid\tevent_name\tage_at_visit\tlabid\theight_cm\tweight_kg\tbmi\n" +
		"P1\tVisit 1\t3650\tLAB1\t170\tNA\t\n"
	secondGroupTable = "participantid\tfamilyid\tsex\tcohort_type\trace\tethnicity\tmrabstractionstatus\n" +
		"P3\tF2\tMale\tControl\tWhite\tNot Hispanic or Latino\tComplete\n"
)

type fixture struct {
	dir     string
	dataset string
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newFixture writes a two-group study. overrides replace table bodies by
// file name.
func newFixture(t *testing.T, overrides map[string]string) fixture {
	t.Helper()
	dir := t.TempDir()
	tables := map[string]string{
		"merge.csv":       mergeTable,
		"dictionary.csv":  dictionaryTable,
		"participant.tsv": participantTable,
		"condition.tsv":   conditionTable,
		"disease.tsv":     diseaseTable,
		"encounter.tsv":   encounterTable,
		"second.tsv":      secondGroupTable,
	}
	for name, body := range overrides {
		tables[name] = body
	}
	for name, body := range tables {
		writeFile(t, filepath.Join(dir, name), body)
	}

	p := func(name string) string { return filepath.Join(dir, name) }
	yaml := fmt.Sprintf(`study_name: HTP Study
study_id: HTP
dict_merge: %s
mcd: %s
merge_col: study_col
consent-groups:
  general:
    participant: %s
    condition: %s
    ds_condition: %s
    encounter: %s
  restricted:
    participant: %s
`, p("merge.csv"), p("dictionary.csv"), p("participant.tsv"), p("condition.tsv"),
		p("disease.tsv"), p("encounter.tsv"), p("second.tsv"))

	ds := filepath.Join(dir, "htp.yaml")
	writeFile(t, ds, yaml)
	return fixture{dir: dir, dataset: ds}
}

func load(t *testing.T, path string) *config.Dataset {
	t.Helper()
	ds, err := config.LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	return ds
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func openChangeLog(t *testing.T) *changelog.SQLiteStore {
	t.Helper()
	s, err := changelog.OpenSQLite(filepath.Join(t.TempDir(), "changes.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRun_EndToEnd(t *testing.T) {
	fx := newFixture(t, nil)
	out := t.TempDir()
	store := openChangeLog(t)
	metrics := telemetry.New()

	r := NewRunner(Options{OutputDir: out, ChangeLog: store, Metrics: metrics, Logger: zerolog.Nop()})
	res, err := r.Run(context.Background(), load(t, fx.dataset))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Study != "HTP_Study" {
		t.Errorf("expected study HTP_Study, got %s", res.Study)
	}
	wantCounts := map[string]int{
		"participant":  3,
		"conditions":   2,
		"diseases":     3,
		"encounters":   1,
		"observations": 5,
	}
	for table, n := range wantCounts {
		if res.Counts[table] != n {
			t.Errorf("%s: expected %d rows, got %d", table, n, res.Counts[table])
		}
	}

	transformed := filepath.Join(out, "HTP_Study", "transformed")
	for _, s := range emit.Schemas {
		lines := readLines(t, filepath.Join(transformed, s.File))
		if lines[0] != strings.Join(s.Columns, "\t") {
			t.Errorf("%s: unexpected header %q", s.File, lines[0])
		}
		if len(lines)-1 != wantCounts[s.Name] {
			t.Errorf("%s: expected %d data lines, got %d", s.File, wantCounts[s.Name], len(lines)-1)
		}
	}

	cde := readLines(t, filepath.Join(out, "HTP_Study", emit.CrosswalkFile))
	if len(cde) != 2 || cde[1] != "HTN,hypertension_flag,HP:0000822," {
		t.Errorf("unexpected cde_map.csv: %q", cde)
	}
	fsh, err := os.ReadFile(filepath.Join(out, "HTP_Study", emit.TerminologyFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(fsh, []byte(`* #HP:0000822 "Hypertension"`)) {
		t.Errorf("pheno.fsh missing HPO entry: %q", fsh)
	}

	conditions := readLines(t, filepath.Join(transformed, "conditions.tsv"))
	if !strings.Contains(conditions[1], "HP:0000822") || !strings.HasPrefix(conditions[1], "F1\tP1\tHTP_Study\t") {
		t.Errorf("unexpected matched condition row %q", conditions[1])
	}
	if got := strings.Split(conditions[2], "\t"); got[3] != "" || got[5] != "seizure_disorder" || got[9] != emit.ObservedAbsent {
		t.Errorf("unexpected pass-through row %q", conditions[2])
	}

	runs, err := store.Runs(context.Background(), "HTP_Study")
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != changelog.StatusSucceeded {
		t.Fatalf("expected one succeeded run, got %+v", runs)
	}
	if runs[0].ID.String() != res.RunID || runs[0].Counts["participant"] != 3 {
		t.Errorf("unexpected recorded run %+v", runs[0])
	}

	if got := testutil.ToFloat64(metrics.RowsEmitted.WithLabelValues("HTP_Study", "participant")); got != 3 {
		t.Errorf("expected 3 participant rows emitted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CodesRegistered.WithLabelValues("HPO")); got != 1 {
		t.Errorf("expected 1 HPO code registered, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.UnmatchedLabels); got != 1 {
		t.Errorf("expected 1 unmatched label, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RegistrationFailures.WithLabelValues("Mondo", "missing")); got != 1 {
		t.Errorf("expected 1 missing Mondo code, got %v", got)
	}
}

func TestRun_PurgesPriorRuns(t *testing.T) {
	fx := newFixture(t, nil)
	store := openChangeLog(t)
	r := NewRunner(Options{OutputDir: t.TempDir(), ChangeLog: store, Logger: zerolog.Nop()})

	for i := 0; i < 2; i++ {
		if _, err := r.Run(context.Background(), load(t, fx.dataset)); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	runs, err := store.Runs(context.Background(), "HTP_Study")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("expected prior runs purged, got %d runs", len(runs))
	}
}

func TestRun_UnknownSubjectAborts(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"condition.tsv": "participantid\tcondition_code\tcondition_status\n" +
			"P1\thypertension_flag\tTRUE\n" +
			"X99\thypertension_flag\tTRUE\n",
	})
	out := t.TempDir()
	store := openChangeLog(t)
	r := NewRunner(Options{OutputDir: out, ChangeLog: store, Logger: zerolog.Nop()})

	_, err := r.Run(context.Background(), load(t, fx.dataset))
	if !errors.Is(err, subject.ErrUnknownSubject) {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
	var unknown *subject.UnknownSubjectError
	if !errors.As(err, &unknown) || unknown.SubjectID != "X99" {
		t.Errorf("expected UnknownSubjectError for X99, got %v", err)
	}

	lines := readLines(t, filepath.Join(out, "HTP_Study", "transformed", "participant.tsv"))
	if len(lines) != 1 {
		t.Errorf("expected header only after abort, got %d lines", len(lines))
	}
	if _, err := os.Stat(filepath.Join(out, "HTP_Study", emit.TerminologyFile)); !os.IsNotExist(err) {
		t.Errorf("expected no pheno.fsh after abort, stat err = %v", err)
	}

	runs, err := store.Runs(context.Background(), "HTP_Study")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != changelog.StatusFailed || !strings.Contains(runs[0].Error, "X99") {
		t.Errorf("expected failed run mentioning X99, got %+v", runs)
	}
}

func TestRun_DuplicateSubjectAcrossGroups(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"second.tsv": "participantid\tfamilyid\n" +
			"P1\tF9\n",
	})
	out := t.TempDir()
	r := NewRunner(Options{OutputDir: out, Logger: zerolog.Nop()})

	res, err := r.Run(context.Background(), load(t, fx.dataset))
	if !errors.Is(err, subject.ErrDuplicateSubject) {
		t.Fatalf("expected ErrDuplicateSubject, got %v", err)
	}
	if res.Counts["participant"] != 2 {
		t.Errorf("expected the first group's rows only, got %d", res.Counts["participant"])
	}
}

func TestRun_RecordsDefects(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"condition.tsv": "participantid\tcondition_code\tcondition_status\n" +
			"P1\thypertension_flag\tyes\n" +
			"P2\t\tTRUE\n",
	})
	r := NewRunner(Options{OutputDir: t.TempDir(), Logger: zerolog.Nop()})

	res, err := r.Run(context.Background(), load(t, fx.dataset))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// two malformed condition rows plus the missing Mondo code
	if res.Defects != 3 {
		t.Errorf("expected 3 defects, got %d", res.Defects)
	}
	if res.Counts["conditions"] != 0 {
		t.Errorf("expected no condition rows, got %d", res.Counts["conditions"])
	}
}

func TestRun_Deterministic(t *testing.T) {
	fx := newFixture(t, nil)
	outA, outB := t.TempDir(), t.TempDir()

	for _, out := range []string{outA, outB} {
		r := NewRunner(Options{OutputDir: out, Logger: zerolog.Nop()})
		if _, err := r.Run(context.Background(), load(t, fx.dataset)); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	files := []string{emit.CrosswalkFile, emit.TerminologyFile}
	for _, s := range emit.Schemas {
		files = append(files, filepath.Join("transformed", s.File))
	}
	for _, f := range files {
		a, err := os.ReadFile(filepath.Join(outA, "HTP_Study", f))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(outB, "HTP_Study", f))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between runs", f)
		}
	}
}

func TestRun_CohortDiseaseOverride(t *testing.T) {
	fx := newFixture(t, nil)
	body, err := os.ReadFile(fx.dataset)
	if err != nil {
		t.Fatal(err)
	}
	override := string(body) + "cohort_disease:\n  present_cohort: Down syndrome\n  absent_cohort: Sibling\n"
	writeFile(t, fx.dataset, override)

	r := NewRunner(Options{OutputDir: t.TempDir(), Logger: zerolog.Nop()})
	res, err := r.Run(context.Background(), load(t, fx.dataset))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Counts["diseases"] != 1 {
		t.Errorf("expected only the Down syndrome subject, got %d disease rows", res.Counts["diseases"])
	}
}

func TestRunFiles_ContinuesAfterFailure(t *testing.T) {
	good := newFixture(t, nil)
	bad := filepath.Join(t.TempDir(), "a-missing.yaml")

	r := NewRunner(Options{OutputDir: t.TempDir(), Logger: zerolog.Nop()})
	results, err := r.RunFiles(context.Background(), []string{good.dataset, bad})
	if err == nil {
		t.Fatal("expected the missing dataset to fail")
	}
	if len(results) != 1 || results[0].Study != "HTP_Study" {
		t.Errorf("expected the good study to run, got %+v", results)
	}
}

func TestDefectKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&subject.MalformedRowError{Table: "c", Line: 2, Field: "condition_status", Reason: "bad"}, "malformed_row"},
		{&subject.ConflictingConditionError{SubjectID: "P1", Label: "x"}, "conflicting_condition"},
		{fmt.Errorf("wrapped: %w", &subject.DuplicateSubjectError{SubjectID: "P1"}), "duplicate_subject"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := defectKind(tt.err); got != tt.want {
			t.Errorf("defectKind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestLoadCrosswalk(t *testing.T) {
	fx := newFixture(t, nil)
	out := t.TempDir()
	metrics := telemetry.New()
	r := NewRunner(Options{OutputDir: out, Metrics: metrics, Logger: zerolog.Nop()})
	if _, err := r.Run(context.Background(), load(t, fx.dataset)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cw, err := r.LoadCrosswalk(filepath.Join(out, "HTP_Study", emit.CrosswalkFile))
	if err != nil {
		t.Fatalf("LoadCrosswalk: %v", err)
	}
	if m := cw.GetMatches("hypertension_flag"); len(m) != 1 || m[0].Code != "HP:0000822" {
		t.Errorf("unexpected matches %+v", m)
	}
	before := testutil.ToFloat64(metrics.UnmatchedLabels)
	cw.GetMatches("nope")
	if got := testutil.ToFloat64(metrics.UnmatchedLabels); got != before+1 {
		t.Errorf("expected unmatched lookup to be counted, got %v", got)
	}
}
