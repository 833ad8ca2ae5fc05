package repository

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mailmerge/mailmerge/internal/database"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRunRepository(t *testing.T) (*RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRunRepository(&database.Postgres{DB: db}), mock
}

func TestRunRepository_Create(t *testing.T) {
	repo, mock := newMockRunRepository(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)
	s := &model.Summary{
		RunID:      "0b7c6a3e-6f0e-4d8a-9a52-2f1f4a3c9e10",
		Mode:       model.ModeNew,
		Label:      "Mail Merge Sent",
		Sent:       2,
		Skipped:    []string{""},
		Errors:     []model.RowError{{Row: 3, Recipient: "x@example.com", Error: "quota"}},
		Attempted:  3,
		Remaining:  4,
		ExportPath: "exports/run.csv",
		StartedAt:  started,
		FinishedAt: finished,
	}

	mock.ExpectExec(insertRunQuery).
		WithArgs(s.RunID, "new", "Mail Merge Sent", 2, 0, 1, 1, 3, 4, "exports/run.csv",
			sqlmock.AnyArg(), started, finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_CreateError(t *testing.T) {
	repo, mock := newMockRunRepository(t)
	mock.ExpectExec(insertRunQuery).WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), &model.Summary{RunID: "id", Mode: model.ModeDraft})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create run")
}

func TestRunRepository_List(t *testing.T) {
	repo, mock := newMockRunRepository(t)
	finished := time.Date(2026, 3, 1, 9, 2, 0, 0, time.UTC)

	rows := sqlmock.NewRows(selectColumns(t, listRunsQuery)).
		AddRow("run-1", "followup", "Label", 5, 0, 6, 0, "exports/a.csv",
			[]byte(`{"skipped":["bad"],"errors":[{"row":2,"recipient":"y@example.com","error":"boom"}]}`),
			finished.Add(-time.Minute), finished)
	mock.ExpectQuery(listRunsQuery).WithArgs(20).WillReturnRows(rows)

	runs, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, model.ModeFollowUp, runs[0].Mode)
	assert.Equal(t, 5, runs[0].Sent)
	assert.Equal(t, 6, runs[0].Attempted)
	assert.Equal(t, []string{"bad"}, runs[0].Skipped)
	require.Len(t, runs[0].Errors, 1)
	assert.Equal(t, "boom", runs[0].Errors[0].Error)
	assert.True(t, finished.Equal(runs[0].FinishedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The column lists in the queries must name real columns of the runs table.
func TestRunQueries_MatchMigration(t *testing.T) {
	migration, err := os.ReadFile("../../migrations/000001_create_runs.up.sql")
	require.NoError(t, err)
	table := tableColumns(string(migration))
	require.NotEmpty(t, table)

	insertCols := regexp.MustCompile(`(?s)INSERT INTO runs \((.*?)\)`).FindStringSubmatch(insertRunQuery)
	require.Len(t, insertCols, 2)
	inserted := splitColumns(insertCols[1])
	assert.ElementsMatch(t, table, inserted, "insert should write every column")
	assert.Equal(t, len(inserted), strings.Count(insertRunQuery, "$"))

	for _, col := range selectColumns(t, listRunsQuery) {
		assert.Contains(t, table, col)
	}
}

func tableColumns(ddl string) []string {
	body := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS runs \((.*?)\n\);`).FindStringSubmatch(ddl)
	if len(body) != 2 {
		return nil
	}
	var cols []string
	for _, line := range strings.Split(body[1], "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			cols = append(cols, fields[0])
		}
	}
	return cols
}

func selectColumns(t *testing.T, query string) []string {
	t.Helper()
	m := regexp.MustCompile(`(?s)SELECT (.*?)\s+FROM`).FindStringSubmatch(query)
	require.Len(t, m, 2)
	return splitColumns(m[1])
}

func splitColumns(list string) []string {
	var cols []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}
