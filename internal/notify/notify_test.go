package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/pkg/kafka"
	"github.com/brownbaglunch/webhook/pkg/resilience"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event kafka.Event) error {
	return m.Called(ctx, event).Error(0)
}

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func finishedRun() rebuild.Run {
	done := time.Date(2020, 1, 2, 0, 0, 5, 0, time.UTC)
	return rebuild.Run{
		ID:         "run-1",
		Trigger:    rebuild.SourceWebhook,
		Alias:      "bblfr",
		Generation: "bblfr-20200102000000",
		Previous:   []string{"bblfr-20200101000000"},
		Deleted:    []string{"bblfr-20200101000000"},
		State:      rebuild.StateDone,
		Cities:     2,
		Baggers:    3,
		Unresolved: 1,
		FinishedAt: &done,
	}
}

func TestGenerationSwappedPublishesEvent(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e kafka.Event) bool {
		ev, ok := e.Value.(GenerationSwapped)
		return ok && e.Key == "bblfr" &&
			ev.Generation == "bblfr-20200102000000" &&
			ev.UnresolvedCityRefs == 1 &&
			ev.SwappedAt.Equal(time.Date(2020, 1, 2, 0, 0, 5, 0, time.UTC))
	})).Return(nil).Once()

	n := NewKafkaNotifier(pub, fastRetry)
	require.NoError(t, n.GenerationSwapped(context.Background(), finishedRun()))
	pub.AssertExpectations(t)
}

func TestGenerationSwappedRetries(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	n := NewKafkaNotifier(pub, fastRetry)
	require.NoError(t, n.GenerationSwapped(context.Background(), finishedRun()))
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestGenerationSwappedGivesUp(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	n := NewKafkaNotifier(pub, fastRetry)
	assert.Error(t, n.GenerationSwapped(context.Background(), finishedRun()))
	pub.AssertNumberOfCalls(t, "Publish", 3)
}

func TestNewGenerationSwappedFirstRun(t *testing.T) {
	at := time.Date(2020, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	ev := NewGenerationSwapped(rebuild.Run{ID: "r", Alias: "bblfr", Generation: "bblfr-20200101110000"}, at)

	assert.Equal(t, []string{}, ev.Previous)
	assert.Equal(t, []string{}, ev.Deleted)
	assert.Equal(t, time.UTC, ev.SwappedAt.Location())
}
