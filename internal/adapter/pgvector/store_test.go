package pgvector

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incredoc/internal/backend"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_EnsureSchema(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(createExtensionQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS document_chunks")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(createSourceIndexQuery)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureSchema_NoExtension(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(createExtensionQuery)).WillReturnError(errors.New(`extension "vector" is not available`))

	err := s.EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "ensure pgvector schema")
}

func TestStore_Upsert(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO document_chunks"))
	prep.ExpectExec().
		WithArgs("d-0", "d", "a.pdf", "one", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("d-1", "d", "a.pdf", "two", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(), []backend.VectorRecord{
		{VectorID: "d-0", DocumentID: "d", Source: "a.pdf", Text: "one", ChunkIndex: 0, Vector: []float32{1, 0}},
		{VectorID: "d-1", DocumentID: "d", Source: "a.pdf", Text: "two", ChunkIndex: 1, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Upsert_RollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO document_chunks"))
	prep.ExpectExec().WillReturnError(errors.New("dimension mismatch"))
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), []backend.VectorRecord{{VectorID: "d-0", Vector: []float32{1}}})
	assert.ErrorContains(t, err, "upsert d-0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"vector_id", "document_id", "source", "text", "chunk_index", "score"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM document_chunks WHERE source = $3")).
		WithArgs(sqlmock.AnyArg(), 5, "a.pdf").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("d-2", "d", "a.pdf", "match", 2, 0.875))

	matches, err := s.Query(context.Background(), []float32{1, 0}, 5, backend.Filter{Source: "a.pdf"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, backend.Match{VectorID: "d-2", DocumentID: "d", Source: "a.pdf", Text: "match", ChunkIndex: 2, Score: 0.875}, matches[0])

	mock.ExpectQuery(regexp.QuoteMeta("FROM document_chunks ORDER BY")).
		WithArgs(sqlmock.AnyArg(), 5).
		WillReturnRows(sqlmock.NewRows(cols))

	matches, err = s.Query(context.Background(), []float32{1, 0}, 5, backend.Filter{})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountChunks(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(countQuery)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountChunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
