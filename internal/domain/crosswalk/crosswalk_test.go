package crosswalk

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/platform/tabular"
)

const testMergeColumn = "dataset_col"

func readerOf(t *testing.T, name, text string) *tabular.Reader {
	t.Helper()
	r, err := tabular.NewReader(strings.NewReader(text), name, ',')
	if err != nil {
		t.Fatalf("NewReader(%s): %v", name, err)
	}
	return r
}

type countingRecorder struct {
	failed    map[terminology.Status]int
	unmatched int
}

func (r *countingRecorder) RegistrationFailed(_ terminology.System, st terminology.Status) {
	if r.failed == nil {
		r.failed = make(map[terminology.Status]int)
	}
	r.failed[st]++
}

func (r *countingRecorder) LabelUnmatched() { r.unmatched++ }

func build(t *testing.T, merge, dict string) (*Crosswalk, *terminology.Registry, *countingRecorder) {
	t.Helper()
	reg := terminology.NewRegistry()
	rec := &countingRecorder{}
	cw, err := NewBuilder(reg, zerolog.Nop()).WithRecorder(rec).
		Build(readerOf(t, "merge", merge), readerOf(t, "dict", dict), testMergeColumn)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return cw, reg, rec
}

func TestGetMatches_Hypertension(t *testing.T) {
	merge := "CDE Variable,dataset_col\nHTN,hypertension_flag\n"
	dict := "Variable / Field Name,HPO ID,HPO Label,Mondo ID,Mondo Label\nHTN,HP_0000822,Hypertension,N/A,\n"

	cw, _, rec := build(t, merge, dict)

	got := cw.GetMatches("hypertension_flag")
	want := []terminology.Match{{SystemURI: terminology.SystemHPO, Label: "Hypertension", Code: "HP:0000822"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetMatches() = %+v, want %+v", got, want)
	}
	if rec.failed[terminology.Missing] != 1 {
		t.Errorf("expected 1 missing Mondo code recorded, got %v", rec.failed)
	}
}

func TestGetMatches_SystemOrder(t *testing.T) {
	merge := "CDE Variable,dataset_col\nDS,down_syndrome\n"
	dict := "Variable / Field Name,Mondo ID,Mondo Label,HPO ID,HPO Label\nDS,MONDO_0008608,Down syndrome,HP_0001249,Intellectual disability\n"

	cw, _, _ := build(t, merge, dict)

	got := cw.GetMatches("down_syndrome")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].SystemURI != terminology.SystemHPO || got[1].SystemURI != terminology.SystemMondo {
		t.Errorf("expected HPO then Mondo, got %+v", got)
	}
}

func TestGetMatches_Unmatched(t *testing.T) {
	cw, _, rec := build(t, "CDE Variable,dataset_col\n", "Variable / Field Name,HPO ID,HPO Label\n")

	if got := cw.GetMatches("SeizureDisorder"); got != nil {
		t.Errorf("expected no matches, got %+v", got)
	}
	if rec.unmatched != 1 {
		t.Errorf("expected 1 unmatched event, got %d", rec.unmatched)
	}
}

func TestGetMatches_ExactStringOnly(t *testing.T) {
	merge := "CDE Variable,dataset_col\nHTN,hypertension_flag\n"
	dict := "Variable / Field Name,HPO ID,HPO Label\nHTN,HP_0000822,Hypertension\n"
	cw, _, _ := build(t, merge, dict)

	for _, label := range []string{"HTN", "Hypertension_flag", " hypertension_flag"} {
		if got := cw.GetMatches(label); len(got) != 0 {
			t.Errorf("GetMatches(%q) = %+v, want none", label, got)
		}
	}
}

func TestBuild_MergeRules(t *testing.T) {
	merge := strings.Join([]string{
		"CDE Variable,dataset_col",
		"HTN,hypertension_flag",
		"OBESITY,",
		"HTN,hypertension_other",
		"ASTHMA,hypertension_flag",
		"HTN,hypertension_flag",
		",orphan",
	}, "\n") + "\n"

	cw, _, _ := build(t, merge, "Variable / Field Name,HPO ID,HPO Label\n")

	if cw.Len() != 1 {
		t.Fatalf("expected 1 mapped variable, got %d", cw.Len())
	}
	e, ok := cw.Lookup("hypertension_flag")
	if !ok || e.CanonicalVariable != "HTN" {
		t.Errorf("expected first mapping to win, got %+v", e)
	}
	rep := cw.Report()
	if rep.MergeRows != 6 || rep.SkippedMerge != 3 {
		t.Errorf("unexpected report: %+v", rep)
	}
	var conflict *MappingConflictError
	if len(rep.Defects) != 2 || !errors.As(rep.Defects[0], &conflict) || conflict.Line != 4 {
		t.Errorf("expected conflict defect on line 4, got %v", rep.Defects)
	}
}

func TestBuild_DuplicateCodeSkipsSystemOnly(t *testing.T) {
	merge := "CDE Variable,dataset_col\nA,var_a\nB,var_b\n"
	dict := "Variable / Field Name,HPO ID,HPO Label,Mondo ID,Mondo Label\n" +
		"A,HP_0000822,Hypertension,MONDO_0005044,hypertensive disorder\n" +
		"B,HP:0000822,Hypertension again,MONDO_0004979,asthma\n"

	cw, reg, rec := build(t, merge, dict)

	if reg.Len(terminology.HPO) != 1 {
		t.Errorf("expected 1 HPO entry, got %d", reg.Len(terminology.HPO))
	}
	if rec.failed[terminology.Duplicate] != 1 {
		t.Errorf("expected 1 duplicate recorded, got %v", rec.failed)
	}
	got := cw.GetMatches("var_b")
	if len(got) != 1 || got[0].Code != "MONDO:0004979" {
		t.Errorf("expected only the Mondo match for var_b, got %+v", got)
	}
}

func TestBuild_SkipsUnknownCanonical(t *testing.T) {
	merge := "CDE Variable,dataset_col\nHTN,hypertension_flag\n"
	dict := "Variable / Field Name,HPO ID,HPO Label\nASTHMA,HP_0002099,Asthma\nHTN,HP_0000822,Hypertension\n"

	cw, reg, _ := build(t, merge, dict)

	if reg.Len(terminology.HPO) != 1 {
		t.Errorf("unknown canonical rows must not register codes, got %d", reg.Len(terminology.HPO))
	}
	if cw.Report().SkippedCanonical != 1 {
		t.Errorf("expected 1 skipped canonical, got %d", cw.Report().SkippedCanonical)
	}
}

func TestBuild_MissingColumns(t *testing.T) {
	reg := terminology.NewRegistry()
	_, err := NewBuilder(reg, zerolog.Nop()).Build(
		readerOf(t, "merge", "CDE Variable,other\n"),
		readerOf(t, "dict", "Variable / Field Name\n"),
		testMergeColumn,
	)
	if !errors.Is(err, tabular.ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}
}

func TestICDCodes(t *testing.T) {
	merge := "CDE Variable,dataset_col\nHTN,hypertension_flag\n"
	dict := "Variable / Field Name,HPO ID,HPO Label,ICD code,ICD code,ICD code\nHTN,HP_0000822,Hypertension,I10,N/A,I15.0\n"

	cw, reg, _ := build(t, merge, dict)

	want := []string{"I10", "I15.0"}
	if got := cw.ICDCodes("hypertension_flag"); !reflect.DeepEqual(got, want) {
		t.Errorf("ICDCodes() = %v, want %v", got, want)
	}
	if reg.Len(terminology.ICD) != 0 {
		t.Errorf("ICD codes must not be registered")
	}
}

func TestParseICDColumns(t *testing.T) {
	header := []string{"Variable / Field Name", "ICD code", "Notes", "ICD code"}
	row := tabular.NewRow(header, []string{"HTN", " I10 ", "x", ""})
	if got := ParseICDColumns(row); !reflect.DeepEqual(got, []string{"I10"}) {
		t.Errorf("ParseICDColumns() = %v", got)
	}
}

func TestExportFlatTable(t *testing.T) {
	merge := "CDE Variable,dataset_col\nHTN,hypertension_flag\nDS,down_syndrome\n"
	dict := "Variable / Field Name,HPO ID,HPO Label,Mondo ID,Mondo Label\nDS,N/A,,MONDO_0008608,Down syndrome\n"

	cw, _, _ := build(t, merge, dict)

	want := []FlatRow{
		{Canonical: "HTN", Dataset: "hypertension_flag"},
		{Canonical: "DS", Dataset: "down_syndrome", Mondo: "MONDO:0008608"},
	}
	if got := cw.ExportFlatTable(); !reflect.DeepEqual(got, want) {
		t.Errorf("ExportFlatTable() = %+v, want %+v", got, want)
	}

	var buf bytes.Buffer
	if err := cw.WriteFlatTable(&buf); err != nil {
		t.Fatalf("WriteFlatTable() error: %v", err)
	}
	wantText := "CDE,CDE2,HPO,Mondo\nHTN,hypertension_flag,,\nDS,down_syndrome,,MONDO:0008608\n"
	if buf.String() != wantText {
		t.Errorf("WriteFlatTable() =\n%q\nwant\n%q", buf.String(), wantText)
	}
}

func TestFlatTable_RoundTrip(t *testing.T) {
	merge := "CDE Variable,dataset_col\nHTN,hypertension_flag\nDS,down_syndrome\nASTHMA,asthma_dx\n"
	dict := "Variable / Field Name,HPO ID,HPO Label,Mondo ID,Mondo Label\n" +
		"HTN,HP_0000822,Hypertension,,\n" +
		"DS,HP_0001249,Intellectual disability,MONDO_0008608,Down syndrome\n"

	cw, _, _ := build(t, merge, dict)

	var buf bytes.Buffer
	if err := cw.WriteFlatTable(&buf); err != nil {
		t.Fatalf("WriteFlatTable() error: %v", err)
	}
	back, err := ImportFlatTable(&buf, terminology.NewRegistry(), zerolog.Nop())
	if err != nil {
		t.Fatalf("ImportFlatTable() error: %v", err)
	}

	if !reflect.DeepEqual(back.ExportFlatTable(), cw.ExportFlatTable()) {
		t.Errorf("round trip mismatch:\n%+v\n%+v", back.ExportFlatTable(), cw.ExportFlatTable())
	}
	for _, v := range []string{"hypertension_flag", "down_syndrome", "asthma_dx"} {
		orig, _ := cw.Lookup(v)
		got, _ := back.Lookup(v)
		if got.CanonicalVariable != orig.CanonicalVariable {
			t.Errorf("%s: canonical %q, want %q", v, got.CanonicalVariable, orig.CanonicalVariable)
		}
		for _, sys := range FieldMappedSystems {
			if got.Codes[sys].Code != orig.Codes[sys].Code {
				t.Errorf("%s/%s: code %q, want %q", v, sys, got.Codes[sys].Code, orig.Codes[sys].Code)
			}
		}
	}
}

func TestImportFlatTable_RejectsBlankVariables(t *testing.T) {
	_, err := ImportFlatTable(strings.NewReader("CDE,CDE2,HPO,Mondo\n,x,,\n"), terminology.NewRegistry(), zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for blank CDE")
	}
}
