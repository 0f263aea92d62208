package emit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/include/ingest/internal/domain/crosswalk"
	"github.com/include/ingest/internal/domain/terminology"
)

// Study level export files.
const (
	CrosswalkFile   = "cde_map.csv"
	TerminologyFile = "pheno.fsh"
)

// WriteCrosswalk writes the crosswalk flat table to dir/cde_map.csv.
func WriteCrosswalk(dir string, cw *crosswalk.Crosswalk) (string, error) {
	path := filepath.Join(dir, CrosswalkFile)
	return path, writeFile(path, func(f *os.File) error { return cw.WriteFlatTable(f) })
}

// WriteTerminology writes the registry dump to dir/pheno.fsh.
func WriteTerminology(dir string, reg *terminology.Registry) (string, error) {
	path := filepath.Join(dir, TerminologyFile)
	return path, writeFile(path, func(f *os.File) error { return reg.WriteFSH(f) })
}

func writeFile(path string, fn func(*os.File) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
