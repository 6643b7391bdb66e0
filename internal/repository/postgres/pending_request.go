package postgres

import (
	"context"
	"database/sql"
	"errors"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/repository"
)

type pendingRequestRepository struct {
	db DBTX
}

func NewPendingRequestRepository(db DBTX) repository.PendingRequestRepository {
	return &pendingRequestRepository{db: db}
}

const pendingColumns = `community_id, applicant_id, applicant_chat_id, applicant_bio, date, deadline, saga_id`

func (r *pendingRequestRepository) Get(ctx context.Context, communityID, applicantID int64) (*domain.PendingRequest, error) {
	req := &domain.PendingRequest{}
	query := `SELECT ` + pendingColumns + ` FROM pending_requests
	          WHERE community_id = $1 AND applicant_id = $2`
	err := r.db.QueryRowContext(ctx, query, communityID, applicantID).Scan(
		&req.CommunityID, &req.ApplicantID, &req.ApplicantChatID, &req.ApplicantBio,
		&req.Date, &req.Deadline, &req.SagaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *pendingRequestRepository) Upsert(ctx context.Context, req *domain.PendingRequest) error {
	query := `INSERT INTO pending_requests (` + pendingColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (community_id, applicant_id) DO UPDATE SET
	            applicant_chat_id = $3, applicant_bio = $4, date = $5, deadline = $6, saga_id = $7`
	_, err := r.db.ExecContext(ctx, query, req.CommunityID, req.ApplicantID,
		req.ApplicantChatID, req.ApplicantBio, req.Date, req.Deadline, req.SagaID)
	return err
}

func (r *pendingRequestRepository) Delete(ctx context.Context, communityID, applicantID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE community_id = $1 AND applicant_id = $2`,
		communityID, applicantID)
	return err
}

func (r *pendingRequestRepository) ListByCommunity(ctx context.Context, communityID int64) ([]domain.PendingRequest, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_requests WHERE community_id = $1 ORDER BY date`
	rows, err := r.db.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, err
	}
	return scanPendingRequests(rows)
}

func (r *pendingRequestRepository) ListByApplicant(ctx context.Context, applicantID int64) ([]domain.PendingRequest, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_requests WHERE applicant_id = $1 ORDER BY date`
	rows, err := r.db.QueryContext(ctx, query, applicantID)
	if err != nil {
		return nil, err
	}
	return scanPendingRequests(rows)
}

func (r *pendingRequestRepository) ListAll(ctx context.Context) ([]domain.PendingRequest, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pendingColumns+` FROM pending_requests ORDER BY date`)
	if err != nil {
		return nil, err
	}
	return scanPendingRequests(rows)
}

func scanPendingRequests(rows *sql.Rows) ([]domain.PendingRequest, error) {
	defer rows.Close()

	var reqs []domain.PendingRequest
	for rows.Next() {
		var req domain.PendingRequest
		if err := rows.Scan(&req.CommunityID, &req.ApplicantID, &req.ApplicantChatID,
			&req.ApplicantBio, &req.Date, &req.Deadline, &req.SagaID); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}
