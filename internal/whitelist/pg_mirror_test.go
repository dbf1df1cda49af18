package whitelist_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

func TestNewPGMirrorCreatesTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prompt_pool_whitelist").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = whitelist.NewPGMirror(db)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMirrorMirrorUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prompt_pool_whitelist").
		WillReturnResult(sqlmock.NewResult(0, 0))
	m, err := whitelist.NewPGMirror(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO prompt_pool_whitelist").
		WithArgs(sqlmock.AnyArg(), "a description", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	done := make(chan struct{})
	go func() {
		m.Mirror([32]byte{1, 2, 3}, "a description", 1700000000)
		close(done)
	}()
	<-done

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMirrorSwallowsExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prompt_pool_whitelist").
		WillReturnResult(sqlmock.NewResult(0, 0))
	m, err := whitelist.NewPGMirror(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO prompt_pool_whitelist").
		WillReturnError(assert.AnError)

	// Mirror must not panic or propagate the error: it's best-effort.
	m.Mirror([32]byte{9}, "desc", 1700000000)
}
