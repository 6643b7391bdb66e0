// Package workflow is a small durable execution engine. A workflow is a
// registered Go function whose side-effecting steps are checkpointed to the
// store; after a crash, ResumeAll re-runs every instance still marked running
// and completed steps replay from their checkpoints instead of executing
// again. External signals are persisted before delivery, so delivery is
// at-least-once and waiting steps must tolerate a replayed event.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/repository"
)

// Fn is the body of a workflow. It must reach its side effects only through
// the Run it is handed, and must be deterministic given the same checkpoints.
type Fn func(ctx context.Context, run *Run, params []byte) error

var (
	ErrUnknownWorkflow = errors.New("workflow: not registered")
	ErrUnknownInstance = errors.New("workflow: no such instance")
)

type Engine struct {
	store repository.WorkflowRepository

	mu        sync.Mutex
	workflows map[string]Fn
	instances map[string]*instance

	now func() time.Time
}

// instance is the in-process runtime of one running workflow.
type instance struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	pending []domain.WorkflowEvent
	arrived chan struct{} // capacity 1, signals new pending events
}

func NewEngine(store repository.WorkflowRepository) *Engine {
	return &Engine{
		store:     store,
		workflows: make(map[string]Fn),
		instances: make(map[string]*instance),
		now:       time.Now,
	}
}

func (e *Engine) Register(name string, fn Fn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = fn
}

// Prepare writes the instance row without starting execution. repo may be
// transaction-scoped, letting callers create the instance atomically with
// their own rows; Launch starts it after the transaction commits.
func (e *Engine) Prepare(ctx context.Context, repo repository.WorkflowRepository, workflow, id string, params any) error {
	e.mu.Lock()
	_, ok := e.workflows[workflow]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflow)
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode workflow params: %w", err)
	}
	return repo.CreateInstance(ctx, &domain.WorkflowInstance{
		ID:       id,
		Workflow: workflow,
		Params:   encoded,
		Status:   domain.WorkflowStatusRunning,
	})
}

// Launch begins executing a previously prepared instance.
func (e *Engine) Launch(ctx context.Context, id string) error {
	rec, err := e.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	if rec.Status != domain.WorkflowStatusRunning {
		return fmt.Errorf("workflow instance %s is %s, not running", id, rec.Status)
	}
	pending, err := e.store.ListPendingEvents(ctx, id)
	if err != nil {
		return err
	}
	return e.launch(rec, pending)
}

// Start prepares and launches an instance in one call.
func (e *Engine) Start(ctx context.Context, workflow, id string, params any) error {
	if err := e.Prepare(ctx, e.store, workflow, id, params); err != nil {
		return err
	}
	return e.Launch(ctx, id)
}

// ResumeAll relaunches every instance the store still marks running. Called
// once at boot, before any new work is accepted.
func (e *Engine) ResumeAll(ctx context.Context) error {
	records, err := e.store.ListInstancesByStatus(ctx, domain.WorkflowStatusRunning)
	if err != nil {
		return err
	}
	for i := range records {
		rec := records[i]
		pending, err := e.store.ListPendingEvents(ctx, rec.ID)
		if err != nil {
			return err
		}
		if err := e.launch(&rec, pending); err != nil {
			logger.WithSaga(rec.ID).Error("Failed to resume workflow instance", "error", err)
		}
	}
	logger.Info("Resumed running workflow instances", "count", len(records))
	return nil
}

func (e *Engine) launch(rec *domain.WorkflowInstance, pending []domain.WorkflowEvent) error {
	e.mu.Lock()
	fn, ok := e.workflows[rec.Workflow]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, rec.Workflow)
	}
	if _, live := e.instances[rec.ID]; live {
		e.mu.Unlock()
		return fmt.Errorf("workflow instance %s is already running", rec.ID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		id:      rec.ID,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: pending,
		arrived: make(chan struct{}, 1),
	}
	e.instances[rec.ID] = inst
	e.mu.Unlock()

	log := logger.WithSaga(rec.ID)
	go func() {
		defer close(inst.done)
		defer func() {
			e.mu.Lock()
			delete(e.instances, rec.ID)
			e.mu.Unlock()
		}()

		err := fn(runCtx, &Run{engine: e, inst: inst}, rec.Params)
		// The run context dies on Terminate; the terminated status is
		// already persisted by then, so only record real outcomes here.
		finishCtx, cancelFinish := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFinish()
		switch {
		case errors.Is(err, context.Canceled):
			log.Info("Workflow instance terminated")
		case err != nil:
			log.Error("Workflow instance failed", "error", err)
			if uerr := e.store.UpdateInstanceStatus(finishCtx, rec.ID, domain.WorkflowStatusErrored, err.Error()); uerr != nil {
				log.Error("Failed to record workflow failure", "error", uerr)
			}
		default:
			log.Info("Workflow instance completed")
			if uerr := e.store.UpdateInstanceStatus(finishCtx, rec.ID, domain.WorkflowStatusComplete, ""); uerr != nil {
				log.Error("Failed to record workflow completion", "error", uerr)
			}
		}
	}()
	return nil
}

// SendEvent persists an event for the instance and wakes it if it is running
// in this process. Events for instances that are not currently loaded stay
// pending and are delivered on the next resume.
func (e *Engine) SendEvent(ctx context.Context, instanceID, eventType string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	seq, err := e.store.AppendEvent(ctx, instanceID, eventType, encoded)
	if err != nil {
		return err
	}

	e.mu.Lock()
	inst := e.instances[instanceID]
	e.mu.Unlock()
	if inst == nil {
		return nil
	}

	inst.mu.Lock()
	inst.pending = append(inst.pending, domain.WorkflowEvent{
		Seq:        seq,
		InstanceID: instanceID,
		Type:       eventType,
		Payload:    encoded,
	})
	inst.mu.Unlock()
	select {
	case inst.arrived <- struct{}{}:
	default:
	}
	return nil
}

// Terminate marks the instance terminated and cancels its run context. It is
// a no-op for instances already finished.
func (e *Engine) Terminate(ctx context.Context, instanceID string) error {
	rec, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != domain.WorkflowStatusRunning {
		return nil
	}
	if err := e.store.UpdateInstanceStatus(ctx, instanceID, domain.WorkflowStatusTerminated, ""); err != nil {
		return err
	}

	e.mu.Lock()
	inst := e.instances[instanceID]
	e.mu.Unlock()
	if inst != nil {
		inst.cancel()
	}
	return nil
}

// IsLive reports whether the instance is currently executing in this process.
func (e *Engine) IsLive(instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.instances[instanceID]
	return ok
}

// WaitDone returns a channel closed when the instance's goroutine exits.
// Instances not running in this process report done immediately.
func (e *Engine) WaitDone(instanceID string) <-chan struct{} {
	e.mu.Lock()
	inst := e.instances[instanceID]
	e.mu.Unlock()
	if inst != nil {
		return inst.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// take removes and returns the oldest pending event of the given type.
func (i *instance) take(eventType string) *domain.WorkflowEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := range i.pending {
		if i.pending[idx].Type == eventType {
			ev := i.pending[idx]
			i.pending = append(i.pending[:idx], i.pending[idx+1:]...)
			return &ev
		}
	}
	return nil
}
