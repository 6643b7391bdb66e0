package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/repository"
)

type workflowRepository struct {
	db DBTX
}

func NewWorkflowRepository(db DBTX) repository.WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error {
	now := time.Now()
	inst.CreatedOn = now
	inst.UpdatedOn = now
	query := `INSERT INTO workflow_instances (id, workflow, params, status, failure, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, inst.ID, inst.Workflow, inst.Params,
		inst.Status, inst.Failure, inst.CreatedOn, inst.UpdatedOn)
	return err
}

func (r *workflowRepository) GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	inst := &domain.WorkflowInstance{}
	query := `SELECT id, workflow, params, status, failure, created_on, updated_on
	          FROM workflow_instances WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&inst.ID, &inst.Workflow,
		&inst.Params, &inst.Status, &inst.Failure, &inst.CreatedOn, &inst.UpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *workflowRepository) UpdateInstanceStatus(ctx context.Context, id, status, failure string) error {
	query := `UPDATE workflow_instances SET status = $1, failure = $2, updated_on = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, status, failure, time.Now(), id)
	return err
}

func (r *workflowRepository) ListInstancesByStatus(ctx context.Context, status string) ([]domain.WorkflowInstance, error) {
	query := `SELECT id, workflow, params, status, failure, created_on, updated_on
	          FROM workflow_instances WHERE status = $1 ORDER BY created_on`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insts []domain.WorkflowInstance
	for rows.Next() {
		var inst domain.WorkflowInstance
		if err := rows.Scan(&inst.ID, &inst.Workflow, &inst.Params, &inst.Status,
			&inst.Failure, &inst.CreatedOn, &inst.UpdatedOn); err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

func (r *workflowRepository) GetCheckpoint(ctx context.Context, instanceID, name string) ([]byte, error) {
	var output []byte
	query := `SELECT output FROM workflow_checkpoints WHERE instance_id = $1 AND name = $2`
	err := r.db.QueryRowContext(ctx, query, instanceID, name).Scan(&output)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

func (r *workflowRepository) PutCheckpoint(ctx context.Context, instanceID, name string, output []byte) error {
	query := `INSERT INTO workflow_checkpoints (instance_id, name, output, created_on)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (instance_id, name) DO UPDATE SET output = $3`
	_, err := r.db.ExecContext(ctx, query, instanceID, name, output, time.Now())
	return err
}

func (r *workflowRepository) AppendEvent(ctx context.Context, instanceID, eventType string, payload []byte) (int64, error) {
	var seq int64
	query := `INSERT INTO workflow_events (instance_id, type, payload, consumed, created_on)
	          VALUES ($1, $2, $3, FALSE, $4) RETURNING seq`
	err := r.db.QueryRowContext(ctx, query, instanceID, eventType, payload, time.Now()).Scan(&seq)
	return seq, err
}

func (r *workflowRepository) ListPendingEvents(ctx context.Context, instanceID string) ([]domain.WorkflowEvent, error) {
	query := `SELECT seq, instance_id, type, payload, consumed, created_on
	          FROM workflow_events WHERE instance_id = $1 AND NOT consumed ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.WorkflowEvent
	for rows.Next() {
		var ev domain.WorkflowEvent
		if err := rows.Scan(&ev.Seq, &ev.InstanceID, &ev.Type, &ev.Payload,
			&ev.Consumed, &ev.CreatedOn); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *workflowRepository) MarkEventConsumed(ctx context.Context, seq int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workflow_events SET consumed = TRUE WHERE seq = $1`, seq)
	return err
}
