package numbering

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgx used by the store; both pgx.Tx and pgxpool.Pool
// satisfy it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store allocates sequence values from the doc_sequences table. The upsert
// increments the counter in a single statement, so two transactions in the
// same (series, period) serialize on the row and can never observe the same
// value.
type Store struct {
	q Querier
}

// NewStore wraps a pgx querier, typically the document transaction.
func NewStore(q Querier) *Store {
	return &Store{q: q}
}

// NextSeq reserves and returns the next sequence value.
func (s *Store) NextSeq(ctx context.Context, series, period string) (int64, error) {
	var seq int64
	err := s.q.QueryRow(ctx, `INSERT INTO doc_sequences (series, period, last_seq)
VALUES ($1, $2, 1)
ON CONFLICT (series, period) DO UPDATE SET last_seq = doc_sequences.last_seq + 1
RETURNING last_seq`, series, period).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}
