package postgres

import (
	"context"
	"database/sql"
	"errors"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/repository"
)

type answerRepository struct {
	db DBTX
}

func NewAnswerRepository(db DBTX) repository.AnswerRepository {
	return &answerRepository{db: db}
}

func (r *answerRepository) Get(ctx context.Context, communityID, applicantID int64) (*domain.AnswerRecord, error) {
	rec := &domain.AnswerRecord{}
	query := `SELECT community_id, applicant_id, question, answer, details, date
	          FROM answers WHERE community_id = $1 AND applicant_id = $2`
	err := r.db.QueryRowContext(ctx, query, communityID, applicantID).Scan(
		&rec.CommunityID, &rec.ApplicantID, &rec.Question, &rec.Answer, &rec.Details, &rec.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *answerRepository) Insert(ctx context.Context, rec *domain.AnswerRecord) error {
	query := `INSERT INTO answers (community_id, applicant_id, question, answer, details, date)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (community_id, applicant_id) DO UPDATE SET
	            question = $3, answer = $4, details = $5, date = $6`
	_, err := r.db.ExecContext(ctx, query, rec.CommunityID, rec.ApplicantID,
		rec.Question, rec.Answer, rec.Details, rec.Date)
	return err
}

func (r *answerRepository) ListByCommunity(ctx context.Context, communityID int64) ([]domain.AnswerRecord, error) {
	query := `SELECT community_id, applicant_id, question, answer, details, date
	          FROM answers WHERE community_id = $1 ORDER BY date`
	rows, err := r.db.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AnswerRecord
	for rows.Next() {
		var rec domain.AnswerRecord
		if err := rows.Scan(&rec.CommunityID, &rec.ApplicantID, &rec.Question,
			&rec.Answer, &rec.Details, &rec.Date); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *answerRepository) Delete(ctx context.Context, communityID, applicantID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM answers WHERE community_id = $1 AND applicant_id = $2`,
		communityID, applicantID)
	return err
}
