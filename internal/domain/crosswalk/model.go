// Package crosswalk resolves dataset specific phenotype variables to
// ontology codes through canonical (CDE) variable names.
package crosswalk

import (
	"github.com/include/ingest/internal/domain/terminology"
)

// Column names of the reference tables.
const (
	ColumnCDEVariable = "CDE Variable"
	ColumnFieldName   = "Variable / Field Name"
	ColumnICDCode     = "ICD code"
)

// Flat table header, CDE is the canonical variable and CDE2 the dataset
// variable.
var FlatTableHeader = []string{"CDE", "CDE2", "HPO", "Mondo"}

// FieldMappedSystems are resolved through "{System} ID" / "{System} Label"
// columns, in match order.
var FieldMappedSystems = []terminology.System{terminology.HPO, terminology.Mondo}

// IDColumn returns the dictionary column holding codes of sys.
func IDColumn(sys terminology.System) string { return string(sys) + " ID" }

// LabelColumn returns the dictionary column holding labels of sys.
func LabelColumn(sys terminology.System) string { return string(sys) + " Label" }

// Entry is the resolved crosswalk record of one dataset variable.
type Entry struct {
	DatasetVariable   string                                       `json:"dataset_variable"`
	CanonicalVariable string                                       `json:"canonical_variable"`
	Codes             map[terminology.System]terminology.CodeEntry `json:"codes"`
	ICD               []string                                     `json:"icd,omitempty"`
}

// FlatRow is one row of the crosswalk export.
type FlatRow struct {
	Canonical string `json:"cde"`
	Dataset   string `json:"cde2"`
	HPO       string `json:"hpo"`
	Mondo     string `json:"mondo"`
}

// Fields returns the row in FlatTableHeader order.
func (r FlatRow) Fields() []string {
	return []string{r.Canonical, r.Dataset, r.HPO, r.Mondo}
}

// Report summarizes a crosswalk build.
type Report struct {
	MergeRows        int                        `json:"merge_rows"`
	Mapped           int                        `json:"mapped"`
	SkippedMerge     int                        `json:"skipped_merge"`
	DictionaryRows   int                        `json:"dictionary_rows"`
	SkippedCanonical int                        `json:"skipped_canonical"`
	Registered       map[terminology.System]int `json:"registered"`
	Defects          []error                    `json:"-"`
}

// Recorder observes recoverable crosswalk events. Implementations must be
// safe for concurrent use because lookups happen after the build.
type Recorder interface {
	RegistrationFailed(system terminology.System, status terminology.Status)
	LabelUnmatched()
}

type nopRecorder struct{}

func (nopRecorder) RegistrationFailed(terminology.System, terminology.Status) {}
func (nopRecorder) LabelUnmatched()                                          {}
