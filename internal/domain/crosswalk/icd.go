package crosswalk

import (
	"strings"

	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/platform/tabular"
)

// ParseICDColumns returns the raw ICD code values of a dictionary row. The
// dictionary repeats the "ICD code" header once per code, so values are read
// positionally from every column carrying that name. Placeholders are
// dropped; values are neither normalized nor registered.
func ParseICDColumns(row tabular.Row) []string {
	var codes []string
	for _, v := range row.All(ColumnICDCode) {
		v = strings.TrimSpace(v)
		if terminology.IsPlaceholder(v) {
			continue
		}
		codes = append(codes, v)
	}
	return codes
}
