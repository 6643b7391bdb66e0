package workflow

import (
	"context"
	"sync"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/repository"
)

// MemoryStore is an in-memory repository.WorkflowRepository used by tests
// across packages that exercise workflows without a database.
type MemoryStore struct {
	mu          sync.Mutex
	instances   map[string]*domain.WorkflowInstance
	checkpoints map[string]map[string][]byte
	events      []domain.WorkflowEvent
	nextSeq     int64
}

var _ repository.WorkflowRepository = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances:   make(map[string]*domain.WorkflowInstance),
		checkpoints: make(map[string]map[string][]byte),
	}
}

func (s *MemoryStore) CreateInstance(_ context.Context, inst *domain.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	copied := *inst
	copied.CreatedOn = now
	copied.UpdatedOn = now
	s.instances[inst.ID] = &copied
	return nil
}

func (s *MemoryStore) GetInstance(_ context.Context, id string) (*domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	copied := *inst
	return &copied, nil
}

func (s *MemoryStore) UpdateInstanceStatus(_ context.Context, id, status, failure string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		inst.Status = status
		inst.Failure = failure
		inst.UpdatedOn = time.Now()
	}
	return nil
}

func (s *MemoryStore) ListInstancesByStatus(_ context.Context, status string) ([]domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status == status {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, instanceID, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[instanceID][name], nil
}

func (s *MemoryStore) PutCheckpoint(_ context.Context, instanceID, name string, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoints[instanceID] == nil {
		s.checkpoints[instanceID] = make(map[string][]byte)
	}
	s.checkpoints[instanceID][name] = output
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, instanceID, eventType string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.events = append(s.events, domain.WorkflowEvent{
		Seq:        s.nextSeq,
		InstanceID: instanceID,
		Type:       eventType,
		Payload:    payload,
		CreatedOn:  time.Now(),
	})
	return s.nextSeq, nil
}

func (s *MemoryStore) ListPendingEvents(_ context.Context, instanceID string) ([]domain.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkflowEvent
	for _, ev := range s.events {
		if ev.InstanceID == instanceID && !ev.Consumed {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkEventConsumed(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].Seq == seq {
			s.events[i].Consumed = true
		}
	}
	return nil
}
