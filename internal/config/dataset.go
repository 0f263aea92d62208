package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ConsentGroup lists the input tables of one consent group.
type ConsentGroup struct {
	Name        string `yaml:"-"`
	Participant string `yaml:"participant"`
	Condition   string `yaml:"condition"`
	DSCondition string `yaml:"ds_condition"`
	Encounter   string `yaml:"encounter"`
	SeqCenter   string `yaml:"seq_center"`
}

// CohortDisease overrides the cohort derived diagnosis.
type CohortDisease struct {
	PresentCohort string `yaml:"present_cohort"`
	AbsentCohort  string `yaml:"absent_cohort"`
	Code          string `yaml:"code"`
	Description   string `yaml:"description"`
	System        string `yaml:"system"`
	Name          string `yaml:"name"`
}

// ConsentGroups is the ordered consent-groups mapping of a dataset file.
type ConsentGroups []ConsentGroup

// UnmarshalYAML keeps the document order of the mapping keys.
func (g *ConsentGroups) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: consent-groups must be a mapping", node.Line)
	}
	out := make(ConsentGroups, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: duplicate consent group %q", key.Line, key.Value)
		}
		seen[key.Value] = true

		var cg ConsentGroup
		if err := val.Decode(&cg); err != nil {
			return fmt.Errorf("consent group %q: %w", key.Value, err)
		}
		cg.Name = key.Value
		out = append(out, cg)
	}
	*g = out
	return nil
}

// Dataset is one study's dataset file.
type Dataset struct {
	StudyName     string         `yaml:"study_name"`
	StudyTitle    string         `yaml:"study_title"`
	StudyID       string         `yaml:"study_id"`
	DictMerge     string         `yaml:"dict_merge"`
	MCD           string         `yaml:"mcd"`
	MergeCol      string         `yaml:"merge_col"`
	Delim         string         `yaml:"delim"`
	ConsentGroups ConsentGroups  `yaml:"consent-groups"`
	CohortDisease *CohortDisease `yaml:"cohort_disease"`

	// Path is the file the dataset was read from.
	Path string `yaml:"-"`
}

// LoadDataset reads and validates a dataset file. Relative table paths are
// used as written, relative to the working directory.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	ds, err := ParseDataset(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ds.Path = path
	return ds, nil
}

// ParseDataset decodes and validates a dataset document.
func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks the required keys.
func (d *Dataset) Validate() error {
	var errs []error
	required := []struct{ key, val string }{
		{"study_name", d.StudyName},
		{"dict_merge", d.DictMerge},
		{"mcd", d.MCD},
		{"merge_col", d.MergeCol},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	if len(d.ConsentGroups) == 0 {
		errs = append(errs, errors.New("at least one consent group is required"))
	}
	for _, cg := range d.ConsentGroups {
		if cg.Participant == "" {
			errs = append(errs, fmt.Errorf("consent group %q: participant is required", cg.Name))
		}
	}
	if d.Delim != "" && utf8.RuneCountInString(d.Delim) != 1 {
		errs = append(errs, fmt.Errorf("delim must be a single character, got %q", d.Delim))
	}
	return errors.Join(errs...)
}

// Study returns the study name used for directories and output rows.
func (d *Dataset) Study() string {
	return strings.ReplaceAll(strings.TrimSpace(d.StudyName), " ", "_")
}

// Delimiter returns the input table delimiter, tab by default.
func (d *Dataset) Delimiter() rune {
	if d.Delim == "" {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(d.Delim)
	return r
}

// StudyDir returns out/<study>.
func (d *Dataset) StudyDir(out string) string {
	return filepath.Join(out, d.Study())
}

// TransformedDir returns out/<study>/transformed.
func (d *Dataset) TransformedDir(out string) string {
	return filepath.Join(d.StudyDir(out), "transformed")
}
