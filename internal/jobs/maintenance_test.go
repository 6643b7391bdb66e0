package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"gatekeeper-backend/internal/config"
	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/notify"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPending struct {
	mu   sync.Mutex
	rows map[[2]int64]domain.PendingRequest
}

func newMemPending() *memPending {
	return &memPending{rows: make(map[[2]int64]domain.PendingRequest)}
}

func (m *memPending) Get(_ context.Context, communityID, applicantID int64) (*domain.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[[2]int64{communityID, applicantID}]; ok {
		copied := row
		return &copied, nil
	}
	return nil, nil
}

func (m *memPending) Upsert(_ context.Context, req *domain.PendingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[2]int64{req.CommunityID, req.ApplicantID}] = *req
	return nil
}

func (m *memPending) Delete(_ context.Context, communityID, applicantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, [2]int64{communityID, applicantID})
	return nil
}

func (m *memPending) ListByCommunity(context.Context, int64) ([]domain.PendingRequest, error) {
	return nil, nil
}

func (m *memPending) ListByApplicant(context.Context, int64) ([]domain.PendingRequest, error) {
	return nil, nil
}

func (m *memPending) ListAll(context.Context) ([]domain.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingRequest
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

type memCommunities struct {
	ids []int64
}

func (m *memCommunities) Get(context.Context, int64) (*domain.Community, error) { return nil, nil }
func (m *memCommunities) Upsert(context.Context, *domain.Community) error       { return nil }
func (m *memCommunities) Delete(context.Context, int64) error                   { return nil }
func (m *memCommunities) ListIDs(context.Context) ([]int64, error)              { return m.ids, nil }

type fakeCommunityService struct {
	mu        sync.Mutex
	refreshed []int64
}

func (f *fakeCommunityService) UpdateConfig(context.Context, int64, domain.Mode, *domain.CommunityConfig) error {
	return nil
}
func (f *fakeCommunityService) GetCommunity(context.Context, int64) (*domain.Community, error) {
	return nil, nil
}
func (f *fakeCommunityService) SetPermission(context.Context, int64, bool) error { return nil }
func (f *fakeCommunityService) AddAdmin(context.Context, int64, int64) error     { return nil }
func (f *fakeCommunityService) RemoveAdmin(context.Context, int64, int64) error  { return nil }
func (f *fakeCommunityService) IsAdmin(context.Context, int64, int64) (bool, error) {
	return false, nil
}

func (f *fakeCommunityService) RefreshAdmins(_ context.Context, communityID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, communityID)
	return nil
}

type memNotifyState struct{}

func (memNotifyState) List(context.Context, int64) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}
func (memNotifyState) Put(context.Context, int64, string, []byte) error { return nil }
func (memNotifyState) Delete(context.Context, int64, string) error      { return nil }
func (memNotifyState) DeleteAll(context.Context, int64) error           { return nil }

type nopSender struct{}

func (nopSender) SendPrompt(context.Context, int64, string) (int64, error) { return 1, nil }
func (nopSender) DeletePrompt(context.Context, int64, int64) error         { return nil }

func newRunner(t *testing.T) (*JobRunner, *memPending, *workflow.MemoryStore, *workflow.Engine, *fakeCommunityService, *memCommunities) {
	t.Helper()
	pending := newMemPending()
	engineStore := workflow.NewMemoryStore()
	engine := workflow.NewEngine(engineStore)
	communities := &memCommunities{}
	communityService := &fakeCommunityService{}
	notifier := notify.NewManager(nopSender{}, memNotifyState{}, time.Millisecond, time.Millisecond)
	t.Cleanup(notifier.Shutdown)

	repos := repository.Store{
		Communities: communities,
		Pending:     pending,
		Workflow:    engineStore,
	}
	runner := NewJobRunner(repos, engine, communityService, notifier, &config.Config{})
	return runner, pending, engineStore, engine, communityService, communities
}

func TestSweepPendingRequests_RemovesOrphanedRows(t *testing.T) {
	runner, pending, engineStore, _, _, _ := newRunner(t)
	ctx := context.Background()

	// Row whose saga never got an instance.
	require.NoError(t, pending.Upsert(ctx, &domain.PendingRequest{
		CommunityID: -100, ApplicantID: 1, SagaID: "gone",
	}))
	// Row whose saga already finished.
	require.NoError(t, engineStore.CreateInstance(ctx, &domain.WorkflowInstance{
		ID: "done", Workflow: "verify", Status: domain.WorkflowStatusComplete,
	}))
	require.NoError(t, pending.Upsert(ctx, &domain.PendingRequest{
		CommunityID: -100, ApplicantID: 2, SagaID: "done",
	}))

	runner.SweepPendingRequests()

	rows, err := pending.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSweepPendingRequests_KeepsLiveSaga(t *testing.T) {
	runner, pending, _, engine, _, _ := newRunner(t)
	ctx := context.Background()

	release := make(chan struct{})
	engine.Register("blocking", func(ctx context.Context, _ *workflow.Run, _ []byte) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, engine.Start(ctx, "blocking", "live-saga", nil))
	defer close(release)

	require.NoError(t, pending.Upsert(ctx, &domain.PendingRequest{
		CommunityID: -100, ApplicantID: 3, SagaID: "live-saga",
	}))

	runner.SweepPendingRequests()

	row, err := pending.Get(ctx, -100, 3)
	require.NoError(t, err)
	assert.NotNil(t, row, "rows backed by a live saga stay")
}

func TestSweepPendingRequests_RelaunchesStalledSaga(t *testing.T) {
	runner, pending, engineStore, engine, _, _ := newRunner(t)
	ctx := context.Background()

	ran := make(chan struct{})
	engine.Register("stalled", func(context.Context, *workflow.Run, []byte) error {
		close(ran)
		return nil
	})
	// Persisted as running but never launched in this process.
	require.NoError(t, engineStore.CreateInstance(ctx, &domain.WorkflowInstance{
		ID: "stalled-saga", Workflow: "stalled", Status: domain.WorkflowStatusRunning, Params: []byte("null"),
	}))
	require.NoError(t, pending.Upsert(ctx, &domain.PendingRequest{
		CommunityID: -100, ApplicantID: 4, SagaID: "stalled-saga",
	}))

	runner.SweepPendingRequests()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled saga was not relaunched")
	}

	row, err := pending.Get(ctx, -100, 4)
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestRefreshAdministrators(t *testing.T) {
	runner, _, _, _, communityService, communities := newRunner(t)
	communities.ids = []int64{-100, -200}

	runner.RefreshAdministrators()

	communityService.mu.Lock()
	defer communityService.mu.Unlock()
	assert.ElementsMatch(t, []int64{-100, -200}, communityService.refreshed)
}
