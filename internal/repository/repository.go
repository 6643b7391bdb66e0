package repository

import (
	"context"

	"gatekeeper-backend/internal/domain"
)

// Lookup methods on these repositories return (nil, nil) when the row does
// not exist; a non-nil error always means the query itself failed.

type CommunityRepository interface {
	Get(ctx context.Context, id int64) (*domain.Community, error)
	Upsert(ctx context.Context, community *domain.Community) error
	ListIDs(ctx context.Context) ([]int64, error)
	Delete(ctx context.Context, id int64) error
}

type AdminRepository interface {
	// Replace swaps the full administrator set of a community.
	Replace(ctx context.Context, communityID int64, userIDs []int64) error
	Add(ctx context.Context, communityID, userID int64) error
	Remove(ctx context.Context, communityID, userID int64) error
	IsAdmin(ctx context.Context, communityID, userID int64) (bool, error)
	ListCommunitiesByAdmin(ctx context.Context, userID int64) ([]int64, error)
	DeleteByCommunity(ctx context.Context, communityID int64) error
}

type PendingRequestRepository interface {
	Get(ctx context.Context, communityID, applicantID int64) (*domain.PendingRequest, error)
	Upsert(ctx context.Context, req *domain.PendingRequest) error
	Delete(ctx context.Context, communityID, applicantID int64) error
	ListByCommunity(ctx context.Context, communityID int64) ([]domain.PendingRequest, error)
	ListByApplicant(ctx context.Context, applicantID int64) ([]domain.PendingRequest, error)
	ListAll(ctx context.Context) ([]domain.PendingRequest, error)
}

type AnswerRepository interface {
	Get(ctx context.Context, communityID, applicantID int64) (*domain.AnswerRecord, error)
	Insert(ctx context.Context, rec *domain.AnswerRecord) error
	Delete(ctx context.Context, communityID, applicantID int64) error
	ListByCommunity(ctx context.Context, communityID int64) ([]domain.AnswerRecord, error)
}

// WorkflowRepository persists durable workflow runs: the instance rows, the
// per-step checkpoints, and the not-yet-consumed external events.
type WorkflowRepository interface {
	CreateInstance(ctx context.Context, inst *domain.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	UpdateInstanceStatus(ctx context.Context, id, status, failure string) error
	ListInstancesByStatus(ctx context.Context, status string) ([]domain.WorkflowInstance, error)

	// GetCheckpoint returns (nil, nil) when the step has not completed yet.
	GetCheckpoint(ctx context.Context, instanceID, name string) ([]byte, error)
	PutCheckpoint(ctx context.Context, instanceID, name string, output []byte) error

	AppendEvent(ctx context.Context, instanceID, eventType string, payload []byte) (int64, error)
	ListPendingEvents(ctx context.Context, instanceID string) ([]domain.WorkflowEvent, error)
	MarkEventConsumed(ctx context.Context, seq int64) error
}

// NotifyStateRepository is the key/value state backing each community's
// notification coalescer. Values are opaque JSON owned by the coalescer.
type NotifyStateRepository interface {
	List(ctx context.Context, communityID int64) (map[string][]byte, error)
	Put(ctx context.Context, communityID int64, key string, value []byte) error
	Delete(ctx context.Context, communityID int64, key string) error
	DeleteAll(ctx context.Context, communityID int64) error
}

// Store bundles every repository behind one handle so transactional code can
// receive a tx-scoped set in a single value.
type Store struct {
	Communities CommunityRepository
	Admins      AdminRepository
	Pending     PendingRequestRepository
	Answers     AnswerRepository
	Workflow    WorkflowRepository
	NotifyState NotifyStateRepository
}

// TxRunner executes fn against a Store whose repositories share one database
// transaction. fn returning an error rolls the transaction back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}
