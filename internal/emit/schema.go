// Package emit writes the normalized tables consumed by the loader.
package emit

import (
	"io"

	"github.com/include/ingest/internal/platform/tabular"
)

// SchemaVersion identifies the column layout of every table below. Any
// reordering of columns requires a bump.
const SchemaVersion = "1"

// Schema names one output table and its fixed column order.
type Schema struct {
	Name    string
	File    string
	Columns []string
}

var ParticipantSchema = Schema{
	Name: "participant",
	File: "participant.tsv",
	Columns: []string{
		"STUDY|NAME",
		"FAMILY|ID",
		"PARTICIPANT|ID",
		"PARTICIPANT|GENDER",
		"PARTICIPANT|RACE",
		"PARTICIPANT|ETHNICITY",
	},
}

var ConditionSchema = Schema{
	Name: "conditions",
	File: "conditions.tsv",
	Columns: []string{
		"FAMILY|ID",
		"PARTICIPANT|ID",
		"STUDY|NAME",
		"PHENOTYPE|ID",
		"DIAGNOSIS|DISEASE_CODE",
		"DIAGNOSIS|DESCRIPTION",
		"DIAGNOSIS|SYSTEM",
		"DIAGNOSIS|NAME",
		"DIAGNOSIS|AGE_ONSET",
		"PHENOTYPE|OBSERVED",
		"PHENOTYPE|DESCRIPTION",
		"DIAGNOSIS|AFFECTED_STATUS",
	},
}

var DiseaseSchema = Schema{
	Name: "diseases",
	File: "diseases.tsv",
	Columns: []string{
		"FAMILY|ID",
		"PARTICIPANT|ID",
		"STUDY|NAME",
		"DIAGNOSIS|DISEASE_ID",
		"DIAGNOSIS|DISEASE_CODE",
		"DIAGNOSIS|DESCRIPTION",
		"DIAGNOSIS|SYSTEM",
		"DIAGNOSIS|NAME",
		"DIAGNOSIS|AGE_ONSET",
		"PHENOTYPE|OBSERVED",
		"PHENOTYPE|DESCRIPTION",
		"DIAGNOSIS|AFFECTED_STATUS",
	},
}

var EncounterSchema = Schema{
	Name: "encounters",
	File: "encounters.tsv",
	Columns: []string{
		"STUDY|NAME",
		"PARTICIPANT|ID",
		"BIOSPECIMEN|ID",
		"PARTICIPANT|AGE_AT_EVENT",
		"PARTICIPANT|VISIT_NUMBER",
		"MEASUREMENT|VALUE",
		"MEASUREMENT|UNITS",
		"MEASUREMENT|UNITS_SYSTEM",
		"MEASUREMENT|CODE",
		"MEASUREMENT|NAME",
		"MEASUREMENT|DERIVED_FROM",
		"MEASUREMENT|ALT_CODES",
		"MEASUREMENT|DESCRIPTION",
		"BIOSPECIMEN|TISSUE_TYPE",
		"BIOSPECIMEN|TISSUE_TYPE_NAME",
	},
}

var ObservationSchema = Schema{
	Name: "observations",
	File: "observations.tsv",
	Columns: []string{
		"PARTICIPANT|ID",
		"STUDY|NAME",
		"FAMILY|ID",
		"OBSERVATION|ID",
		"OBSERVATION|NAME",
		"OBSERVATION|SYSTEM",
		"OBSERVATION|DESCRIPTION",
		"OBSERVATION|VALUE",
	},
}

// Schemas lists every subject level table in write order.
var Schemas = []Schema{ParticipantSchema, ConditionSchema, DiseaseSchema, EncounterSchema, ObservationSchema}

// NewWriter writes the schema header to w and returns a tab separated row
// writer bound to the schema width.
func NewWriter(w io.Writer, s Schema) (*tabular.Writer, error) {
	return tabular.NewWriter(w, '\t', s.Columns)
}
