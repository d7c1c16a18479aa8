package generation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brownbaglunch/webhook/pkg/elasticsearch"
	"github.com/brownbaglunch/webhook/pkg/elasticsearch/estest"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/logger"
)

func TestName(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	at := time.Date(2024, 3, 5, 10, 4, 9, 0, paris)
	assert.Equal(t, "bblfr-20240305090409", Name("bblfr", at))
}

func TestIsGeneration(t *testing.T) {
	assert.True(t, IsGeneration("bblfr", "bblfr-20240305090409"))
	assert.False(t, IsGeneration("bblfr", "bblfr-test"))
	assert.False(t, IsGeneration("bblfr", "bblfr-2024030509040"))
	assert.False(t, IsGeneration("bblfr", "other-20240305090409"))
	assert.False(t, IsGeneration("bbl", "bblfr-20240305090409"))
}

func TestActionsAddFirstAndSkipTarget(t *testing.T) {
	actions := Actions("bblfr", "g2", []string{"g1", "g2", "g0"})
	require.Len(t, actions, 3)
	assert.Equal(t, elasticsearch.AddAlias("g2", "bblfr"), actions[0])
	assert.Equal(t, elasticsearch.RemoveAlias("g1", "bblfr"), actions[1])
	assert.Equal(t, elasticsearch.RemoveAlias("g0", "bblfr"), actions[2])
}

func TestSwapFirstRun(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-2")
	s := NewSwapper(backend)

	prior, err := s.Current(context.Background(), "bblfr")
	require.NoError(t, err)
	assert.Empty(t, prior)

	require.NoError(t, s.Swap(context.Background(), "bblfr", "bblfr-2", prior))
	assert.Equal(t, []string{"bblfr-2"}, backend.Bound("bblfr"))
}

func TestSwapReplacesEveryPriorBinding(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-1", "bblfr")
	backend.Seed("bblfr-0", "bblfr")
	backend.Seed("bblfr-2")
	s := NewSwapper(backend)

	prior, err := s.Current(context.Background(), "bblfr")
	require.NoError(t, err)
	require.NoError(t, s.Swap(context.Background(), "bblfr", "bblfr-2", prior))

	assert.Equal(t, []string{"bblfr-2"}, backend.Bound("bblfr"))
}

func TestSwapFailureLeavesAliasUntouched(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-1", "bblfr")
	backend.Seed("bblfr-2")
	backend.UpdateAliasesErr = errors.New("cluster_block_exception")
	s := NewSwapper(backend)

	err := s.Swap(context.Background(), "bblfr", "bblfr-2", []string{"bblfr-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAliasSwap))
	assert.Equal(t, []string{"bblfr-1"}, backend.Bound("bblfr"))
}

func TestSwapAndCollectLogRunID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	backend := estest.New()
	backend.Seed("bblfr-20240101000000", "bblfr")
	backend.Seed("bblfr-20240102000000")
	ctx := logger.WithRunID(context.Background(), "run-7")

	require.NoError(t, NewSwapper(backend).Swap(ctx, "bblfr", "bblfr-20240102000000", []string{"bblfr-20240101000000"}))
	NewCollector(backend, false).Collect(ctx, "bblfr", "bblfr-20240102000000", []string{"bblfr-20240101000000"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Contains(t, string(line), "run_id=run-7")
	}
	assert.Contains(t, buf.String(), "alias swapped")
	assert.Contains(t, buf.String(), "generation deleted")
}

func TestCurrentBackendError(t *testing.T) {
	backend := estest.New()
	backend.AliasErr = errors.New("connection refused")

	_, err := NewSwapper(backend).Current(context.Background(), "bblfr")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBackendUnavailable))
}

func TestCollectDeletesPriorGenerations(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-20240101000000")
	backend.Seed("bblfr-20240102000000", "bblfr")

	res := NewCollector(backend, false).Collect(context.Background(), "bblfr", "bblfr-20240102000000", []string{"bblfr-20240101000000"})

	assert.Equal(t, []string{"bblfr-20240101000000"}, res.Deleted)
	assert.Equal(t, []string{"bblfr-20240102000000"}, backend.Indices())
}

func TestCollectNeverDeletesBoundOrCurrent(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-20240101000000", "bblfr")
	backend.Seed("bblfr-20240102000000", "bblfr")

	res := NewCollector(backend, false).Collect(context.Background(), "bblfr", "bblfr-20240102000000",
		[]string{"bblfr-20240101000000", "bblfr-20240102000000"})

	assert.Empty(t, res.Deleted)
	assert.ElementsMatch(t, []string{"bblfr-20240101000000", "bblfr-20240102000000"}, res.Skipped)
	assert.Len(t, backend.Indices(), 2)
}

func TestCollectContinuesAfterDeleteFailure(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-20240101000000")
	backend.Seed("bblfr-20240101000001")
	backend.Seed("bblfr-20240102000000", "bblfr")
	backend.DeleteErr = map[string]error{"bblfr-20240101000000": errors.New("timeout")}

	res := NewCollector(backend, false).Collect(context.Background(), "bblfr", "bblfr-20240102000000",
		[]string{"bblfr-20240101000000", "bblfr-20240101000001"})

	assert.Equal(t, []string{"bblfr-20240101000000"}, res.Failed)
	assert.Equal(t, []string{"bblfr-20240101000001"}, res.Deleted)
}

func TestCollectSkipsEverythingWhenAliasUnreadable(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-20240101000000")
	backend.AliasErr = errors.New("unavailable")

	res := NewCollector(backend, false).Collect(context.Background(), "bblfr", "bblfr-20240102000000", []string{"bblfr-20240101000000"})

	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{"bblfr-20240101000000"}, res.Skipped)
	assert.Contains(t, backend.Indices(), "bblfr-20240101000000")
}

func TestCollectSweepsOlderOrphans(t *testing.T) {
	backend := estest.New()
	backend.Seed("bblfr-20231231000000")          // orphan of a failed run
	backend.Seed("bblfr-20240101000000")          // prior generation
	backend.Seed("bblfr-20240102000000", "bblfr") // current
	backend.Seed("bblfr-20240103000000")          // run still in progress
	backend.Seed("bblfr-archive")

	res := NewCollector(backend, true).Collect(context.Background(), "bblfr", "bblfr-20240102000000", []string{"bblfr-20240101000000"})

	assert.ElementsMatch(t, []string{"bblfr-20240101000000", "bblfr-20231231000000"}, res.Deleted)
	assert.Equal(t, []string{"bblfr-20240102000000", "bblfr-20240103000000", "bblfr-archive"}, backend.Indices())
}
