package generation

import (
	"context"
	"log/slog"
	"slices"

	"github.com/brownbaglunch/webhook/pkg/logger"
)

// IndexStore lists and deletes generation indices.
type IndexStore interface {
	AliasIndices(ctx context.Context, alias string) ([]string, error)
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	DeleteIndex(ctx context.Context, name string) error
}

// CollectResult lists what a collection pass did with each candidate.
type CollectResult struct {
	Deleted []string
	Skipped []string
	Failed  []string
}

// Collector deletes generations that no longer back the alias. Failures are
// logged and never fail the run.
type Collector struct {
	store        IndexStore
	sweepOrphans bool
}

// NewCollector returns a Collector. With sweepOrphans set it also removes
// unaliased generations older than the current one, left behind by earlier
// failed runs.
func NewCollector(store IndexStore, sweepOrphans bool) *Collector {
	return &Collector{
		store:        store,
		sweepOrphans: sweepOrphans,
	}
}

// Collect deletes prior generations other than current. Bindings are read
// again first and any index the alias still points to is kept.
func (c *Collector) Collect(ctx context.Context, alias, current string, prior []string) CollectResult {
	var res CollectResult

	candidates := make([]string, 0, len(prior))
	for _, name := range prior {
		if !slices.Contains(candidates, name) {
			candidates = append(candidates, name)
		}
	}
	if c.sweepOrphans {
		orphans, err := c.store.ListIndices(ctx, Pattern(alias))
		if err != nil {
			c.log(ctx).Warn("listing generations failed, skipping orphan sweep",
				"alias", alias,
				"error", err,
			)
		}
		for _, name := range orphans {
			// Newer generations may belong to a run still loading.
			if IsGeneration(alias, name) && name < current && !slices.Contains(candidates, name) {
				candidates = append(candidates, name)
			}
		}
	}
	if len(candidates) == 0 {
		return res
	}

	bound, err := c.store.AliasIndices(ctx, alias)
	if err != nil {
		c.log(ctx).Warn("reading alias failed, keeping previous generations",
			"alias", alias,
			"error", err,
		)
		res.Skipped = candidates
		return res
	}

	for _, name := range candidates {
		if name == current || slices.Contains(bound, name) {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := c.store.DeleteIndex(ctx, name); err != nil {
			c.log(ctx).Warn("deleting generation failed",
				"index", name,
				"error", err,
			)
			res.Failed = append(res.Failed, name)
			continue
		}
		c.log(ctx).Info("generation deleted", "index", name)
		res.Deleted = append(res.Deleted, name)
	}
	return res
}

func (c *Collector) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx).With("component", "generation-collector")
}
