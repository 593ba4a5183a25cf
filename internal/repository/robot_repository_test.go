package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/museovivo/robot-tour-server/internal/model"
)

var robotCols = []string{"id", "name", "status", "last_connection", "tours_completed"}

func TestGetByName_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRobotRepo(db)

	last := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, name, status`).
		WithArgs("turtlebot-1").
		WillReturnRows(sqlmock.NewRows(robotCols).AddRow(7, "turtlebot-1", model.RobotActive, last, 42))

	rb, err := repo.GetByName(context.Background(), "turtlebot-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rb.ID)
	assert.Equal(t, model.RobotActive, rb.Status)
	require.NotNil(t, rb.LastConnection)
	assert.Equal(t, last, *rb.LastConnection)
	assert.Equal(t, uint32(42), rb.ToursCompleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByName_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRobotRepo(db)

	mock.ExpectQuery(`SELECT id, name, status`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(robotCols))

	_, err = repo.GetByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRobotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_UnknownRobot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRobotRepo(db)

	mock.ExpectExec(`UPDATE robots SET status`).
		WithArgs(model.RobotMaintenance, uint64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.UpdateStatus(context.Background(), 99, model.RobotMaintenance)
	assert.ErrorIs(t, err, ErrRobotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCompletedTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRobotRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE robots SET tours_completed`).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.IncrementCompletedTx(context.Background(), tx, 7))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
