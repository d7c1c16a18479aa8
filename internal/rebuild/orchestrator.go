package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brownbaglunch/webhook/internal/dataset"
	"github.com/brownbaglunch/webhook/internal/generation"
	"github.com/brownbaglunch/webhook/internal/indexer"
	"github.com/brownbaglunch/webhook/internal/source"
	"github.com/brownbaglunch/webhook/pkg/config"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/logger"
	"github.com/brownbaglunch/webhook/pkg/metrics"
	"github.com/brownbaglunch/webhook/pkg/tracing"
)

// Collection names written into the generation.
const (
	CollectionCities  = "cities"
	CollectionBaggers = "baggers"
)

// Backend is the search cluster as seen by a run.
type Backend interface {
	CreateIndex(ctx context.Context, name string) error
	generation.AliasStore
	generation.IndexStore
	indexer.BulkWriter
}

// Fetcher downloads the source payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Recorder persists run records. Save is called on every transition with the
// latest copy of the run.
type Recorder interface {
	Save(ctx context.Context, run Run) error
}

// Archiver keeps a copy of each fetched payload under the generation name.
type Archiver interface {
	Archive(ctx context.Context, generation string, payload []byte) error
}

// Notifier announces a completed swap.
type Notifier interface {
	GenerationSwapped(ctx context.Context, run Run) error
}

// Locker provides a lock shared with other webhook processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// Deps are the collaborators of an Orchestrator. Backend is required; nil
// optional collaborators are skipped.
type Deps struct {
	Backend  Backend
	Fetcher  Fetcher
	Recorder Recorder
	Archiver Archiver
	Notifier Notifier
	Locker   Locker
	Metrics  *metrics.Metrics
	Now      func() time.Time
	NewID    func() string
}

// Orchestrator executes rebuild runs. It keeps no state between runs.
type Orchestrator struct {
	alias     string
	sourceURL string
	lockKey   string
	lockTTL   time.Duration

	backend   Backend
	fetcher   Fetcher
	parser    *source.Parser
	bulk      *indexer.BulkIndexer
	swapper   *generation.Swapper
	collector *generation.Collector

	recorder Recorder
	archiver Archiver
	notifier Notifier
	locker   Locker
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

func New(cfg *config.Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		alias:     cfg.Elasticsearch.Alias,
		sourceURL: cfg.Source.URL,
		lockKey:   cfg.Redis.LockKeyPrefix + cfg.Elasticsearch.Alias,
		lockTTL:   cfg.Rebuild.LockTTL,
		backend:   deps.Backend,
		fetcher:   deps.Fetcher,
		parser:    source.NewParser(cfg.Source.Prefix, cfg.Source.Suffix),
		bulk: indexer.NewBulkIndexer(deps.Backend, indexer.Options{
			CollectionField:       cfg.Elasticsearch.CollectionField,
			AbortOnPartialFailure: cfg.Rebuild.PartialFailurePolicy == config.PolicyAbort,
		}),
		swapper:   generation.NewSwapper(deps.Backend),
		collector: generation.NewCollector(deps.Backend, cfg.Rebuild.SweepOrphans),
		recorder:  deps.Recorder,
		archiver:  deps.Archiver,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if o.fetcher == nil {
		o.fetcher = source.NewFetcher(cfg.Source.Timeout)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// scope carries the values one run passes between its states.
type scope struct {
	prior      []string
	payload    string
	dataset    *dataset.Dataset
	resolution *dataset.Resolution
}

type step struct {
	state State
	do    func(ctx context.Context, run *Run, sc *scope) error
}

func (o *Orchestrator) steps() []step {
	return []step{
		{StateFetchingCurrentAlias, o.fetchCurrentAlias},
		{StateCreatingGeneration, o.createGeneration},
		{StateFetchingSource, o.fetchSource},
		{StateParsingSource, o.parseSource},
		{StateTransforming, o.transform},
		{StateIndexingCities, o.indexCities},
		{StateIndexingBaggers, o.indexBaggers},
		{StateSwappingAlias, o.swapAlias},
		{StateCollectingGarbage, o.collectGarbage},
	}
}

// Run executes one rebuild to completion and returns its record. The error
// is non-nil exactly when the run ends in StateFailed.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (*Run, error) {
	if trigger.ID == "" {
		trigger.ID = o.newID()
	}
	run := &Run{
		ID:        trigger.ID,
		Trigger:   trigger.Source,
		Alias:     o.alias,
		State:     StateIdle,
		StartedAt: o.now().UTC(),
	}
	ctx = logger.WithRunID(ctx, run.ID)
	log := logger.FromContext(ctx).With("component", "rebuild")

	ctx, root := tracing.StartSpan(ctx, "rebuild", run.ID)
	defer func() {
		root.End()
		root.Log(log)
	}()

	o.metrics.RebuildInProgress.Inc()
	defer o.metrics.RebuildInProgress.Dec()

	log.Info("rebuild started",
		"trigger", run.Trigger,
		"alias", o.alias,
	)
	o.record(ctx, log, run)

	if o.locker != nil {
		unlock, acquired, err := o.locker.TryLock(ctx, o.lockKey, o.lockTTL)
		if err != nil {
			return o.fail(ctx, log, run, StateIdle, fmt.Errorf("%w: run lock: %w", apperrors.ErrBackendUnavailable, err))
		}
		if !acquired {
			return o.fail(ctx, log, run, StateIdle, fmt.Errorf("%w: lock %s is held by another process", apperrors.ErrRunInProgress, o.lockKey))
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("releasing run lock failed", "key", o.lockKey, "error", err)
			}
		}()
	}

	sc := &scope{}
	for _, st := range o.steps() {
		run.State = st.state
		o.record(ctx, log, run)
		log.Debug("entering state", "state", st.state.String())

		stepCtx, span := tracing.StartChildSpan(ctx, st.state.String())
		err := st.do(stepCtx, run, sc)
		elapsed := span.End()
		o.metrics.RebuildStateDuration.WithLabelValues(st.state.String()).Observe(elapsed.Seconds())
		if err != nil {
			span.Fail(err)
			root.Fail(err)
			return o.fail(ctx, log, run, st.state, err)
		}
	}

	run.State = StateDone
	finished := o.now().UTC()
	run.FinishedAt = &finished
	o.record(ctx, log, run)
	o.metrics.RebuildRunsTotal.WithLabelValues("done").Inc()
	log.Info("rebuild done",
		"generation", run.Generation,
		"cities", run.Cities,
		"baggers", run.Baggers,
		"failed_documents", run.FailedDocuments,
		"unresolved_references", run.Unresolved,
		"deleted", run.Deleted,
		"duration", run.Duration(),
	)

	if o.notifier != nil {
		if err := o.notifier.GenerationSwapped(ctx, run.Clone()); err != nil {
			log.Warn("generation swap notification failed", "error", err)
		}
	}
	return run, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, run *Run, in State, err error) (*Run, error) {
	run.State = StateFailed
	run.FailedIn = in.String()
	run.Error = err.Error()
	run.ErrorKind = apperrors.Kind(err)
	finished := o.now().UTC()
	run.FinishedAt = &finished
	o.record(ctx, log, run)
	o.metrics.RebuildRunsTotal.WithLabelValues(run.ErrorKind).Inc()
	log.Error("rebuild failed",
		"state", in.String(),
		"kind", run.ErrorKind,
		"generation", run.Generation,
		"error", err,
	)
	return run, err
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, run *Run) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Save(context.WithoutCancel(ctx), run.Clone()); err != nil {
		log.Warn("recording run failed", "state", run.State.String(), "error", err)
	}
}

func (o *Orchestrator) fetchCurrentAlias(ctx context.Context, run *Run, sc *scope) error {
	prior, err := o.swapper.Current(ctx, o.alias)
	if err != nil {
		return err
	}
	sc.prior = prior
	run.Previous = prior
	return nil
}

func (o *Orchestrator) createGeneration(ctx context.Context, run *Run, sc *scope) error {
	name := generation.Name(o.alias, o.now())
	if err := o.backend.CreateIndex(ctx, name); err != nil {
		return fmt.Errorf("%w: creating generation %s: %w", apperrors.ErrIndexWrite, name, err)
	}
	run.Generation = name
	logger.FromContext(ctx).Info("generation created", "component", "rebuild", "generation", name)
	return nil
}

func (o *Orchestrator) fetchSource(ctx context.Context, run *Run, sc *scope) error {
	payload, err := o.fetcher.Fetch(ctx, o.sourceURL)
	if err != nil {
		return err
	}
	sc.payload = payload
	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, run.Generation, []byte(payload)); err != nil {
			logger.FromContext(ctx).Warn("archiving source payload failed",
				"component", "rebuild",
				"generation", run.Generation,
				"error", err,
			)
		}
	}
	return nil
}

func (o *Orchestrator) parseSource(ctx context.Context, run *Run, sc *scope) error {
	ds, err := o.parser.Parse(sc.payload)
	if err != nil {
		return err
	}
	sc.dataset = ds
	sc.payload = ""
	logger.FromContext(ctx).Info("source parsed",
		"component", "rebuild",
		"cities", len(ds.Cities),
		"baggers", len(ds.Baggers),
	)
	return nil
}

func (o *Orchestrator) transform(ctx context.Context, run *Run, sc *scope) error {
	sc.resolution = dataset.Resolve(sc.dataset)
	log := logger.FromContext(ctx).With("component", "rebuild")
	for _, ref := range sc.resolution.Unresolved {
		log.Warn("unresolved city reference",
			"bagger", ref.Bagger,
			"city", ref.City,
		)
	}
	run.Unresolved = len(sc.resolution.Unresolved)
	o.metrics.UnresolvedReferences.Add(float64(run.Unresolved))
	return nil
}

func (o *Orchestrator) indexCities(ctx context.Context, run *Run, sc *scope) error {
	report, err := o.bulk.Load(ctx, run.Generation, CollectionCities, indexer.Documents(sc.resolution.Cities, nil))
	o.countReport(run, report)
	if err != nil {
		return err
	}
	run.Cities = report.Indexed
	return nil
}

func (o *Orchestrator) indexBaggers(ctx context.Context, run *Run, sc *scope) error {
	report, err := o.bulk.Load(ctx, run.Generation, CollectionBaggers, indexer.Documents(sc.resolution.Baggers, nil))
	o.countReport(run, report)
	if err != nil {
		return err
	}
	run.Baggers = report.Indexed
	return nil
}

func (o *Orchestrator) countReport(run *Run, report *indexer.Report) {
	if report == nil {
		return
	}
	run.FailedDocuments += report.Failed
	o.metrics.DocumentsIndexedTotal.WithLabelValues(report.Collection).Add(float64(report.Indexed))
	o.metrics.DocumentsFailedTotal.WithLabelValues(report.Collection).Add(float64(report.Failed))
}

func (o *Orchestrator) swapAlias(ctx context.Context, run *Run, sc *scope) error {
	return o.swapper.Swap(ctx, o.alias, run.Generation, sc.prior)
}

func (o *Orchestrator) collectGarbage(ctx context.Context, run *Run, sc *scope) error {
	res := o.collector.Collect(ctx, o.alias, run.Generation, sc.prior)
	run.Deleted = res.Deleted
	o.metrics.GenerationsDeletedTotal.WithLabelValues("deleted").Add(float64(len(res.Deleted)))
	o.metrics.GenerationsDeletedTotal.WithLabelValues("failed").Add(float64(len(res.Failed)))
	return nil
}
