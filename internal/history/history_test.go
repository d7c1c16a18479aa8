package history

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brownbaglunch/webhook/internal/rebuild"
)

func TestMemoryStoreUpsertsAndOrders(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, rebuild.Run{ID: "a", State: rebuild.StateIdle}))
	require.NoError(t, s.Save(ctx, rebuild.Run{ID: "b", State: rebuild.StateIdle}))
	require.NoError(t, s.Save(ctx, rebuild.Run{ID: "a", State: rebuild.StateDone}))

	runs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, "a", runs[1].ID)
	assert.Equal(t, rebuild.StateDone, runs[1].State)
}

func TestMemoryStoreIsBounded(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, rebuild.Run{ID: fmt.Sprintf("r%d", i)}))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r4", runs[0].ID)
	assert.Equal(t, "r3", runs[1].ID)

	all, _ := s.Recent(ctx, 100)
	assert.Len(t, all, 3)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(3)
	run := rebuild.Run{ID: "a", Previous: []string{"g1"}}
	require.NoError(t, s.Save(context.Background(), run))
	run.Previous[0] = "changed"

	runs, _ := s.Recent(context.Background(), 1)
	assert.Equal(t, []string{"g1"}, runs[0].Previous)
}

func TestPostgresStoreMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rebuild_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)
	run := rebuild.Run{
		ID:         "run-1",
		Trigger:    rebuild.SourceWebhook,
		Alias:      "bblfr",
		Generation: "bblfr-20200102000000",
		State:      rebuild.StateDone,
		Cities:     12,
		Baggers:    40,
		StartedAt:  started,
		FinishedAt: &finished,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rebuild_runs")).
		WithArgs("run-1", "webhook", "bblfr", "bblfr-20200102000000", sqlmock.AnyArg(),
			"Done", "", "", "", 12, 40, 0, 0, sqlmock.AnyArg(), started, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresStore(db).Save(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Second)
	columns := []string{"id", "trigger", "alias", "generation", "previous", "state", "failed_in", "error",
		"error_kind", "cities", "baggers", "unresolved", "failed_documents", "deleted", "started_at", "finished_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("run-2", "kafka", "bblfr", "bblfr-20200102000000", "{bblfr-20200101000000}", "Done", "", "", "",
			3, 5, 1, 0, "{bblfr-20200101000000}", started, finished).
		AddRow("run-1", "webhook", "bblfr", "bblfr-20200101000000", "{}", "Failed", "SwappingAlias",
			"alias swap failed", "alias_swap", 3, 5, 0, 0, "{}", started.Add(-time.Hour), nil)

	mock.ExpectQuery("SELECT (.+) FROM rebuild_runs").WithArgs(2).WillReturnRows(rows)

	runs, err := NewPostgresStore(db).Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, rebuild.StateDone, runs[0].State)
	assert.Equal(t, []string{"bblfr-20200101000000"}, runs[0].Previous)
	assert.Equal(t, []string{"bblfr-20200101000000"}, runs[0].Deleted)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, finished, *runs[0].FinishedAt)

	assert.Equal(t, rebuild.StateFailed, runs[1].State)
	assert.Equal(t, "SwappingAlias", runs[1].FailedIn)
	assert.Empty(t, runs[1].Previous)
	assert.Nil(t, runs[1].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecentRejectsUnknownState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "trigger", "alias", "generation", "previous", "state", "failed_in", "error",
		"error_kind", "cities", "baggers", "unresolved", "failed_documents", "deleted", "started_at", "finished_at"}).
		AddRow("x", "cli", "bblfr", "", "{}", "Paused", "", "", "", 0, 0, 0, 0, "{}", time.Now(), nil)
	mock.ExpectQuery("SELECT (.+) FROM rebuild_runs").WillReturnRows(rows)

	_, err = NewPostgresStore(db).Recent(context.Background(), 10)
	require.Error(t, err)
}
