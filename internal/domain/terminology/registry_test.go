package terminology

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	r := reg.Register(HPO, "HP_0000822", "Hypertension")
	if !r.OK() {
		t.Fatalf("expected registered, got %s: %v", r.Status, r.Err())
	}
	if r.Entry.Code != "HP:0000822" {
		t.Errorf("expected normalized code HP:0000822, got %q", r.Entry.Code)
	}
	if r.Entry.System != HPO {
		t.Errorf("expected system HPO, got %s", r.Entry.System)
	}
	if r.Err() != nil {
		t.Errorf("expected nil error, got %v", r.Err())
	}

	got, ok := reg.Lookup(HPO, "HP:0000822")
	if !ok || got.Label != "Hypertension" {
		t.Errorf("lookup after register: got %+v, %v", got, ok)
	}
	if _, ok := reg.Lookup(Mondo, "HP:0000822"); ok {
		t.Error("code must not leak into another system")
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.Register(HPO, "HP:0001250", "Seizure")

	r := reg.Register(HPO, "HP_0001250", "Seizures")
	if r.Status != Duplicate {
		t.Fatalf("expected duplicate, got %s", r.Status)
	}
	var dup *DuplicateCodeError
	if !errors.As(r.Err(), &dup) {
		t.Fatalf("expected DuplicateCodeError, got %T", r.Err())
	}
	if dup.Existing.Label != "Seizure" {
		t.Errorf("expected existing label Seizure, got %q", dup.Existing.Label)
	}
	if reg.Len(HPO) != 1 {
		t.Errorf("expected 1 HPO entry, got %d", reg.Len(HPO))
	}
}

func TestRegistry_SameCodeDifferentSystems(t *testing.T) {
	reg := NewRegistry()
	if r := reg.Register(HPO, "X:1", "a"); !r.OK() {
		t.Fatalf("HPO register failed: %v", r.Err())
	}
	if r := reg.Register(Mondo, "X:1", "a"); !r.OK() {
		t.Fatalf("uniqueness is per system, Mondo register failed: %v", r.Err())
	}
}

func TestRegistry_RegisterMissing(t *testing.T) {
	tests := []string{"", "   ", "N/A", "n/a", "NA"}
	for _, code := range tests {
		reg := NewRegistry()
		r := reg.Register(Mondo, code, "Something")
		if r.Status != Missing {
			t.Errorf("code %q: expected missing, got %s", code, r.Status)
		}
		var miss *MissingCodeError
		if !errors.As(r.Err(), &miss) {
			t.Errorf("code %q: expected MissingCodeError, got %T", code, r.Err())
		}
		if reg.Len(Mondo) != 0 {
			t.Errorf("code %q: nothing should be registered", code)
		}
	}
}

func TestRegistry_CodesUniqueAndNonEmpty(t *testing.T) {
	reg := NewRegistry()
	inputs := []string{"HP_1", "HP:1", "HP_2", "", "N/A", "HP_3", "HP_2"}
	for _, c := range inputs {
		reg.Register(HPO, c, "label "+c)
	}

	seen := make(map[string]bool)
	for _, e := range reg.Dump(HPO) {
		if strings.TrimSpace(e.Code) == "" {
			t.Errorf("registered empty code: %+v", e)
		}
		if seen[e.Code] {
			t.Errorf("code %s registered twice", e.Code)
		}
		seen[e.Code] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 unique codes, got %d", len(seen))
	}
}

func TestRegistry_DumpInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(HPO, "HP:3", "c")
	reg.Register(HPO, "HP:1", "a")
	reg.Register(HPO, "HP:2", "b")

	dump := reg.Dump(HPO)
	want := []string{"HP:3", "HP:1", "HP:2"}
	if len(dump) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(dump))
	}
	for i, code := range want {
		if dump[i].Code != code {
			t.Errorf("entry %d: expected %s, got %s", i, code, dump[i].Code)
		}
	}
}

func TestRegistry_Systems(t *testing.T) {
	reg := NewRegistry()
	if len(reg.Systems()) != 0 {
		t.Error("expected no systems on empty registry")
	}
	reg.Register(Mondo, "MONDO:1", "m")
	reg.Register(HPO, "HP:1", "h")

	got := reg.Systems()
	if len(got) != 2 || got[0] != HPO || got[1] != Mondo {
		t.Errorf("expected [HPO Mondo], got %v", got)
	}
}

func TestRegistry_WriteFSH(t *testing.T) {
	reg := NewRegistry()
	reg.Register(HPO, "HP_0000822", "Hypertension")
	reg.Register(HPO, "HP_0001250", "Seizure")
	reg.Register(Mondo, "MONDO_0008608", "Down syndrome")

	var sb strings.Builder
	if err := reg.WriteFSH(&sb); err != nil {
		t.Fatalf("WriteFSH: %v", err)
	}

	want := "/* HPO */\n" +
		"* #HP:0000822 \"Hypertension\"\n" +
		"* #HP:0001250 \"Seizure\"\n" +
		"\n\n" +
		"/* Mondo */\n" +
		"* #MONDO:0008608 \"Down syndrome\"\n" +
		"\n\n"
	if sb.String() != want {
		t.Errorf("unexpected FSH output:\n%s\nwant:\n%s", sb.String(), want)
	}
}

func TestParseSystem(t *testing.T) {
	for _, name := range []string{"hpo", "HPO", " Mondo ", "omim", "ICD"} {
		if _, err := ParseSystem(name); err != nil {
			t.Errorf("ParseSystem(%q): %v", name, err)
		}
	}
	if _, err := ParseSystem("snomed"); err == nil {
		t.Error("expected error for unknown system")
	}
}

func TestSystem_URI(t *testing.T) {
	if HPO.URI() != SystemHPO {
		t.Errorf("HPO uri = %q", HPO.URI())
	}
	if Mondo.URI() != SystemMondo {
		t.Errorf("Mondo uri = %q", Mondo.URI())
	}
	if System("LOINC").URI() != "" {
		t.Error("expected empty uri for unknown system")
	}
}
