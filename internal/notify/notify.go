// Package notify publishes GenerationSwapped events once a rebuild has moved
// the alias to a new generation.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/pkg/kafka"
	"github.com/brownbaglunch/webhook/pkg/resilience"
)

// GenerationSwapped is the event body published after a successful run.
type GenerationSwapped struct {
	RunID              string    `json:"run_id"`
	Trigger            string    `json:"trigger"`
	Alias              string    `json:"alias"`
	Generation         string    `json:"generation"`
	Previous           []string  `json:"previous"`
	Deleted            []string  `json:"deleted"`
	Cities             int       `json:"cities"`
	Baggers            int       `json:"baggers"`
	FailedDocuments    int       `json:"failed_documents"`
	UnresolvedCityRefs int       `json:"unresolved_references"`
	SwappedAt          time.Time `json:"swapped_at"`
}

// Publisher writes one event. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaNotifier implements rebuild.Notifier on top of a Publisher.
type KafkaNotifier struct {
	publisher Publisher
	retry     resilience.RetryConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewKafkaNotifier returns a notifier retrying each publish with retry.
func NewKafkaNotifier(publisher Publisher, retry resilience.RetryConfig) *KafkaNotifier {
	return &KafkaNotifier{
		publisher: publisher,
		retry:     retry,
		now:       time.Now,
		logger:    slog.Default().With("component", "notifier"),
	}
}

// GenerationSwapped publishes the event for run, keyed by alias so that all
// events of one alias stay ordered on one partition.
func (n *KafkaNotifier) GenerationSwapped(ctx context.Context, run rebuild.Run) error {
	event := NewGenerationSwapped(run, n.now())
	err := resilience.Retry(ctx, "publish-generation-swapped", n.retry, func(ctx context.Context) error {
		return n.publisher.Publish(ctx, kafka.Event{Key: run.Alias, Value: event})
	})
	if err != nil {
		return err
	}
	n.logger.Info("generation swap published",
		"run_id", run.ID,
		"generation", run.Generation,
	)
	return nil
}

// NewGenerationSwapped builds the event for a finished run.
func NewGenerationSwapped(run rebuild.Run, at time.Time) GenerationSwapped {
	swappedAt := at.UTC()
	if run.FinishedAt != nil {
		swappedAt = run.FinishedAt.UTC()
	}
	previous := run.Previous
	if previous == nil {
		previous = []string{}
	}
	deleted := run.Deleted
	if deleted == nil {
		deleted = []string{}
	}
	return GenerationSwapped{
		RunID:              run.ID,
		Trigger:            run.Trigger,
		Alias:              run.Alias,
		Generation:         run.Generation,
		Previous:           previous,
		Deleted:            deleted,
		Cities:             run.Cities,
		Baggers:            run.Baggers,
		FailedDocuments:    run.FailedDocuments,
		UnresolvedCityRefs: run.Unresolved,
		SwappedAt:          swappedAt,
	}
}
