package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"gatekeeper-backend/internal/repository"

	_ "github.com/lib/pq"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx, letting
// the same repository code run standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	repository.Store
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		Store: newRepositories(db),
	}
}

func newRepositories(q DBTX) repository.Store {
	return repository.Store{
		Communities: NewCommunityRepository(q),
		Admins:      NewAdminRepository(q),
		Pending:     NewPendingRequestRepository(q),
		Answers:     NewAnswerRepository(q),
		Workflow:    NewWorkflowRepository(q),
		NotifyState: NewNotifyStateRepository(q),
	}
}

// WithinTx runs fn against repositories bound to one transaction and commits
// only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(newRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}
