// Package pipeline runs the transform of one or more studies: crosswalk
// build, per consent group subject passes, and table emission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/domain/crosswalk"
	"github.com/include/ingest/internal/domain/subject"
	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/emit"
	"github.com/include/ingest/internal/platform/changelog"
	"github.com/include/ingest/internal/platform/tabular"
	"github.com/include/ingest/internal/platform/telemetry"
)

// Options configure a Runner. Zero values disable the optional stores.
type Options struct {
	OutputDir string
	ChangeLog changelog.Store
	Snapshots *terminology.Service
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
}

// Result summarizes one study run.
type Result struct {
	Study   string
	RunID   string
	Dir     string
	Files   []string
	Counts  map[string]int
	Defects int
}

// Runner transforms studies. It is not safe for concurrent use.
type Runner struct {
	out       string
	changelog changelog.Store
	snapshots *terminology.Service
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

// NewRunner creates a Runner from opts.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		out:       opts.OutputDir,
		changelog: opts.ChangeLog,
		snapshots: opts.Snapshots,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if r.out == "" {
		r.out = "output"
	}
	if r.changelog == nil {
		r.changelog = changelog.NopStore{}
	}
	if r.metrics == nil {
		r.metrics = telemetry.New()
	}
	return r
}

// RunFiles loads each dataset file and runs it, in sorted path order. A
// failed study does not stop the others; the failures are joined.
func (r *Runner) RunFiles(ctx context.Context, paths []string) ([]Result, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var (
		results []Result
		errs    []error
	)
	for _, p := range sorted {
		ds, err := config.LoadDataset(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := r.Run(ctx, ds)
		if err != nil {
			errs = append(errs, fmt.Errorf("study %s: %w", ds.Study(), err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// BuildCrosswalk builds a fresh registry and crosswalk for ds.
func (r *Runner) BuildCrosswalk(ds *config.Dataset) (*crosswalk.Crosswalk, error) {
	logger := r.logger.With().Str("study", ds.Study()).Logger()
	reg := terminology.NewRegistry()
	cw, err := crosswalk.NewBuilder(reg, logger).
		WithRecorder(metricsRecorder{m: r.metrics}).
		BuildFiles(ds.DictMerge, ds.MCD, ds.MergeCol)
	if err != nil {
		return nil, fmt.Errorf("build crosswalk: %w", err)
	}
	for _, sys := range reg.Systems() {
		r.metrics.CodesRegistered.WithLabelValues(string(sys)).Add(float64(reg.Len(sys)))
	}
	return cw, nil
}

// LoadCrosswalk reads a crosswalk previously written as cde_map.csv.
func (r *Runner) LoadCrosswalk(path string) (cw *crosswalk.Crosswalk, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open crosswalk: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	cw, err = crosswalk.ImportFlatTable(f, terminology.NewRegistry(), r.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cw.SetRecorder(metricsRecorder{m: r.metrics})
	return cw, nil
}

// Run transforms one study and records it in the change log.
func (r *Runner) Run(ctx context.Context, ds *config.Dataset) (res Result, err error) {
	study := ds.Study()
	logger := r.logger.With().Str("study", study).Logger()
	started := time.Now()

	purged, err := r.changelog.Purge(ctx, study)
	if err != nil {
		return Result{}, fmt.Errorf("purge prior runs: %w", err)
	}
	run := changelog.NewRun(study)
	if err := r.changelog.Start(ctx, run); err != nil {
		return Result{}, fmt.Errorf("start run: %w", err)
	}
	logger.Info().Str("run_id", run.ID.String()).Int("purged", purged).Msg("study run started")

	defer func() {
		run.Counts = res.Counts
		run.Complete(err)
		status := string(run.Status)
		r.metrics.ObserveStudy(status, started)
		if ferr := r.changelog.Finish(ctx, run); ferr != nil && err == nil {
			err = fmt.Errorf("finish run: %w", ferr)
		}
		if err != nil {
			logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("study run failed")
			return
		}
		logger.Info().Str("run_id", run.ID.String()).Dur("elapsed", time.Since(started)).Msg("study run finished")
	}()

	res = Result{Study: study, RunID: run.ID.String(), Dir: ds.TransformedDir(r.out)}

	cw, err := r.BuildCrosswalk(ds)
	if err != nil {
		return res, err
	}
	run.Defects = append(run.Defects, defects(cw.Report().Defects)...)

	path, err := emit.WriteCrosswalk(ds.StudyDir(r.out), cw)
	if err != nil {
		return res, err
	}
	res.Files = append(res.Files, path)

	counts, groupDefects, err := r.emitStudy(ds, cw, logger)
	res.Counts = counts
	run.Defects = append(run.Defects, groupDefects...)
	res.Defects = len(run.Defects)
	if err != nil {
		return res, err
	}
	for _, s := range emit.Schemas {
		res.Files = append(res.Files, filepath.Join(res.Dir, s.File))
	}

	path, err = emit.WriteTerminology(ds.StudyDir(r.out), cw.Registry())
	if err != nil {
		return res, err
	}
	res.Files = append(res.Files, path)

	if r.snapshots != nil {
		n, err := r.snapshots.Save(ctx, study, cw.Registry())
		if err != nil {
			return res, fmt.Errorf("save terminology snapshot: %w", err)
		}
		logger.Info().Int("entries", n).Msg("terminology snapshot saved")
	}
	return res, nil
}

// emitStudy opens the output tables and writes every consent group in
// document order. Files are closed on every path.
func (r *Runner) emitStudy(ds *config.Dataset, cw *crosswalk.Crosswalk, logger zerolog.Logger) (counts map[string]int, found []changelog.Defect, err error) {
	dir := ds.TransformedDir(r.out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output directory: %w", err)
	}

	files := make(map[string]*os.File, len(emit.Schemas))
	defer func() {
		for name, f := range files {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", name, cerr)
			}
		}
	}()
	open := func(s emit.Schema) (io.Writer, error) {
		f, err := os.Create(filepath.Join(dir, s.File))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", s.File, err)
		}
		files[s.Name] = f
		return f, nil
	}

	var streams emit.Streams
	targets := []struct {
		w *io.Writer
		s emit.Schema
	}{
		{&streams.Participants, emit.ParticipantSchema},
		{&streams.Conditions, emit.ConditionSchema},
		{&streams.Diseases, emit.DiseaseSchema},
		{&streams.Encounters, emit.EncounterSchema},
		{&streams.Observations, emit.ObservationSchema},
	}
	for _, t := range targets {
		w, err := open(t.s)
		if err != nil {
			return nil, nil, err
		}
		*t.w = w
	}

	em, err := emit.NewEmitter(ds.Study(), cw, cohortDisease(ds), streams)
	if err != nil {
		return nil, nil, err
	}
	// Flush whatever was written, even on a fatal group error.
	defer func() {
		if ferr := em.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		counts = em.Counts()
		for table, n := range counts {
			r.metrics.RowsEmitted.WithLabelValues(ds.Study(), table).Add(float64(n))
		}
	}()

	seen := make(map[string]string)
	for _, cg := range ds.ConsentGroups {
		glog := logger.With().Str("consent_group", cg.Name).Logger()
		l, err := r.loadGroup(ds, cg, glog)
		if l != nil {
			found = append(found, defects(l.Defects())...)
		}
		if err != nil {
			return nil, found, fmt.Errorf("consent group %s: %w", cg.Name, err)
		}
		for _, id := range l.IDs() {
			if prev, dup := seen[id]; dup {
				return nil, found, fmt.Errorf("consent group %s: %w", cg.Name,
					&subject.DuplicateSubjectError{Table: cg.Participant + " (also in " + prev + ")", SubjectID: id})
			}
			seen[id] = cg.Name
		}
		if err := em.Group(l); err != nil {
			return nil, found, fmt.Errorf("consent group %s: emit: %w", cg.Name, err)
		}
		glog.Info().Int("subjects", l.Len()).Int("visits", len(l.Visits())).Msg("consent group written")
	}
	return nil, found, nil
}

// loadGroup runs every ledger pass of cg. Optional tables left blank are
// skipped.
func (r *Runner) loadGroup(ds *config.Dataset, cg config.ConsentGroup, logger zerolog.Logger) (*subject.Ledger, error) {
	l := subject.NewLedger(logger)
	passes := []struct {
		path string
		load func(*tabular.Reader) error
	}{
		{cg.Participant, l.LoadDemographics},
		{cg.Condition, l.LoadConditions},
		{cg.DSCondition, l.LoadDiseaseConditions},
		{cg.Encounter, l.LoadVisits},
	}
	for _, p := range passes {
		if p.path == "" {
			continue
		}
		if err := readTable(p.path, ds.Delimiter(), p.load); err != nil {
			return l, err
		}
	}

	for pass, st := range l.Stats() {
		r.metrics.RowsRead.WithLabelValues(ds.Study(), pass).Add(float64(st.Rows))
		r.metrics.RowsSkipped.WithLabelValues(ds.Study(), pass).Add(float64(st.Skipped))
	}
	return l, nil
}

func readTable(path string, delim rune, load func(*tabular.Reader) error) (err error) {
	t, err := tabular.Open(path, delim)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := t.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return load(t)
}

// cohortDisease applies the dataset override on top of the default.
func cohortDisease(ds *config.Dataset) emit.CohortDisease {
	d := emit.DefaultCohortDisease
	o := ds.CohortDisease
	if o == nil {
		return d
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&d.PresentCohort, o.PresentCohort)
	set(&d.AbsentCohort, o.AbsentCohort)
	set(&d.Code, o.Code)
	set(&d.Description, o.Description)
	set(&d.System, o.System)
	set(&d.Name, o.Name)
	return d
}

// defects converts recoverable errors into change log entries.
func defects(errs []error) []changelog.Defect {
	out := make([]changelog.Defect, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		out = append(out, changelog.Defect{Kind: defectKind(err), Detail: err.Error()})
	}
	return out
}

func defectKind(err error) string {
	var (
		dupCode   *terminology.DuplicateCodeError
		missing   *terminology.MissingCodeError
		conflict  *crosswalk.MappingConflictError
		malformed *subject.MalformedRowError
		cond      *subject.ConflictingConditionError
		dupSubj   *subject.DuplicateSubjectError
	)
	switch {
	case errors.As(err, &dupCode):
		return "duplicate_code"
	case errors.As(err, &missing):
		return "missing_code"
	case errors.As(err, &conflict):
		return "mapping_conflict"
	case errors.As(err, &malformed):
		return "malformed_row"
	case errors.As(err, &cond):
		return "conflicting_condition"
	case errors.As(err, &dupSubj):
		return "duplicate_subject"
	}
	return "other"
}
