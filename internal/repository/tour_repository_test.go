package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museovivo/robot-tour-server/internal/model"
)

var tourCols = []string{"id", "tour_id", "user_id", "tour_route_id", "tour_name", "pin",
	"robot_id", "status", "completed", "started_at", "rating", "feedback"}

func setupTourRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TourRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewTourRepo(db)
}

func tourRow(id uint64, tourID string, userID uint64, pin, status string) *sqlmock.Rows {
	return sqlmock.NewRows(tourCols).
		AddRow(id, tourID, userID, 3, "Highlights", pin, 7, status, false, time.Now().UTC(), nil, nil)
}

func TestLatestActiveByPin_Match(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tour_history`).
		WithArgs("04219").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT id, tour_id`).
		WithArgs("04219").
		WillReturnRows(tourRow(11, "abc123xyz", 5, "04219", model.StatusPending))

	inst, matches, err := repo.LatestActiveByPin(context.Background(), "04219")
	require.NoError(t, err)
	assert.Equal(t, 1, matches)
	assert.Equal(t, "abc123xyz", inst.TourID)
	assert.Equal(t, "04219", inst.PIN)
	require.NotNil(t, inst.RobotID)
	assert.Equal(t, uint64(7), *inst.RobotID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestActiveByPin_CollisionReportsCount(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tour_history`).
		WithArgs("99999").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT id, tour_id`).
		WithArgs("99999").
		WillReturnRows(tourRow(30, "newest0id", 9, "99999", model.StatusPending))

	inst, matches, err := repo.LatestActiveByPin(context.Background(), "99999")
	require.NoError(t, err)
	assert.Equal(t, 2, matches)
	assert.Equal(t, "newest0id", inst.TourID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestActiveByPin_NoMatch(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tour_history`).
		WithArgs("00000").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.LatestActiveByPin(context.Background(), "00000")
	assert.ErrorIs(t, err, ErrTourNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTx_SecondCompletionRejected(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tour_history SET completed = 1`).
		WithArgs(model.StatusCompleted, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE tour_history SET completed = 1`).
		WithArgs(model.StatusCompleted, uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.CompleteTx(context.Background(), tx, 11))
	assert.ErrorIs(t, repo.CompleteTx(context.Background(), tx, 11), ErrTourNotFound)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveByInstance_TerminalDoesNotMatch(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, tour_id`).
		WithArgs("gone00000").
		WillReturnRows(sqlmock.NewRows(tourCols))

	_, err := repo.GetActiveByInstance(context.Background(), "gone00000")
	assert.ErrorIs(t, err, ErrTourNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingByRobot(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows(tourCols).
		AddRow(1, "first0000", 2, 3, "Highlights", "11111", 7, model.StatusPending, false, time.Now().UTC(), nil, nil).
		AddRow(2, "second000", 4, 3, "Sculpture", "22222", 7, model.StatusPending, false, time.Now().UTC(), nil, nil)
	mock.ExpectQuery(`SELECT id, tour_id`).
		WithArgs(uint64(7), model.StatusPending).
		WillReturnRows(rows)

	pending, err := repo.PendingByRobot(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first0000", pending[0].TourID)
	assert.Equal(t, "second000", pending[1].TourID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRating_OnlyTerminalRows(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tour_history SET rating`).
		WithArgs(uint8(4), "great tour", "abc123xyz", uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetRating(context.Background(), "abc123xyz", 5, 4, "great tour")
	assert.ErrorIs(t, err, ErrTourNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveByRobot_NoneIsNilNil(t *testing.T) {
	db, mock, repo := setupTourRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, tour_id`).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows(tourCols))

	inst, err := repo.ActiveByRobot(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, inst)
	assert.NoError(t, mock.ExpectationsWereMet())
}
