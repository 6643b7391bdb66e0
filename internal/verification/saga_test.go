package verification

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/notify"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCommunity = int64(-100)
	testApplicant = int64(42)
)

type sentMessage struct {
	Params    messenger.SendMessageParams
	MessageID int64
}

type fakeAPI struct {
	mu       sync.Mutex
	nextID   int64
	sent     []sentMessage
	deleted  []int64
	approved int
	declined int
	banned   int
	chats    map[int64]*messenger.ChatInfo
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		chats: map[int64]*messenger.ChatInfo{
			testCommunity: {ID: testCommunity, Type: messenger.ChatTypeSupergroup, Title: "Club", Username: "club"},
			testApplicant: {ID: testApplicant, Type: messenger.ChatTypePrivate, FirstName: "Ada", Username: "ada"},
		},
	}
}

func (f *fakeAPI) SendMessage(_ context.Context, params messenger.SendMessageParams) (*messenger.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{Params: params, MessageID: f.nextID})
	return &messenger.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, _, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeAPI) ApproveJoinRequest(_ context.Context, _, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved++
	return nil
}

func (f *fakeAPI) DeclineJoinRequest(_ context.Context, _, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined++
	return nil
}

func (f *fakeAPI) BanMember(_ context.Context, _, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banned++
	return nil
}

func (f *fakeAPI) GetChat(_ context.Context, chatID int64) (*messenger.ChatInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chat, ok := f.chats[chatID]; ok {
		return chat, nil
	}
	return nil, &messenger.Error{Method: "getChat", Code: 400, Description: "chat not found"}
}

func (f *fakeAPI) GetChatAdministrators(_ context.Context, _ int64) ([]messenger.ChatMember, error) {
	return nil, nil
}

func (f *fakeAPI) GetFilePath(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (f *fakeAPI) sentTo(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.Params.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) counts() (approved, declined, banned int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approved, f.declined, f.banned
}

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

func (m *memPending) ListByCommunity(_ context.Context, communityID int64) ([]domain.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingRequest
	for key, row := range m.rows {
		if key[0] == communityID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memPending) ListByApplicant(_ context.Context, applicantID int64) ([]domain.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingRequest
	for key, row := range m.rows {
		if key[1] == applicantID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memPending) ListAll(_ context.Context) ([]domain.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingRequest
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

type memAnswers struct {
	mu   sync.Mutex
	rows map[[2]int64]domain.AnswerRecord
}

func newMemAnswers() *memAnswers {
	return &memAnswers{rows: make(map[[2]int64]domain.AnswerRecord)}
}

func (m *memAnswers) Get(_ context.Context, communityID, applicantID int64) (*domain.AnswerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[[2]int64{communityID, applicantID}]; ok {
		copied := row
		return &copied, nil
	}
	return nil, nil
}

func (m *memAnswers) Insert(_ context.Context, rec *domain.AnswerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[2]int64{rec.CommunityID, rec.ApplicantID}] = *rec
	return nil
}

func (m *memAnswers) Delete(_ context.Context, communityID, applicantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, [2]int64{communityID, applicantID})
	return nil
}

func (m *memAnswers) ListByCommunity(_ context.Context, communityID int64) ([]domain.AnswerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AnswerRecord
	for key, row := range m.rows {
		if key[0] == communityID {
			out = append(out, row)
		}
	}
	return out, nil
}

type memNotifyState struct {
	mu   sync.Mutex
	data map[int64]map[string][]byte
}

func newMemNotifyState() *memNotifyState {
	return &memNotifyState{data: make(map[int64]map[string][]byte)}
}

func (s *memNotifyState) List(_ context.Context, communityID int64) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range s.data[communityID] {
		out[k] = v
	}
	return out, nil
}

func (s *memNotifyState) Put(_ context.Context, communityID int64, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[communityID] == nil {
		s.data[communityID] = make(map[string][]byte)
	}
	s.data[communityID][key] = value
	return nil
}

func (s *memNotifyState) Delete(_ context.Context, communityID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[communityID], key)
	return nil
}

func (s *memNotifyState) DeleteAll(_ context.Context, communityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, communityID)
	return nil
}

// promptSender adapts the fake API into the coalescer's sender.
type promptSender struct {
	api *fakeAPI
}

func (p *promptSender) SendPrompt(ctx context.Context, communityID int64, text string) (int64, error) {
	sent, err := p.api.SendMessage(ctx, messenger.SendMessageParams{ChatID: communityID, Text: text})
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (p *promptSender) DeletePrompt(ctx context.Context, communityID, messageID int64) error {
	return p.api.DeleteMessage(ctx, communityID, messageID)
}

type passThroughTx struct {
	store repository.Store
}

func (p *passThroughTx) WithinTx(_ context.Context, fn func(repository.Store) error) error {
	return fn(p.store)
}

type harness struct {
	api           *fakeAPI
	engine        *workflow.Engine
	workflowStore *workflow.MemoryStore
	orchestrator  *Orchestrator
	pending       *memPending
	answers       *memAnswers
	notifier      *notify.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := newFakeAPI()
	chats := messenger.NewChatCache(api, time.Minute)
	notifier := notify.NewManager(&promptSender{api: api}, newMemNotifyState(), 10*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(notifier.Shutdown)

	workflowStore := workflow.NewMemoryStore()
	engine := workflow.NewEngine(workflowStore)
	pending := newMemPending()
	answers := newMemAnswers()

	saga := NewSaga(api, chats, notifier, pending, "gatekeeper_bot",
		workflow.RetryPolicy{Limit: 2, Delay: time.Millisecond, Backoff: workflow.BackoffLinear})
	saga.Register(engine)

	store := repository.Store{Pending: pending, Answers: answers, Workflow: workflowStore}
	orchestrator := NewOrchestrator(store, &passThroughTx{store: store}, engine,
		NewAutoPass(api, chats, "gatekeeper_bot"))

	return &harness{
		api:           api,
		engine:        engine,
		workflowStore: workflowStore,
		orchestrator:  orchestrator,
		pending:       pending,
		answers:       answers,
		notifier:      notifier,
	}
}

func formCommunity() *domain.Community {
	return &domain.Community{
		ID:   testCommunity,
		Mode: domain.ModeForm,
		Config: &domain.CommunityConfig{
			Question:       "Why do you want to join?",
			Welcome:        "welcome {{user.display_name}}, answered {{response.answer}}",
			TimeoutSeconds: 3600,
			Prompt: domain.PromptConfig{
				TextInPrivate: "hi {{user.display_name}}",
				TextInGroup:   "{{user.display_name}} wants to join",
			},
		},
	}
}

func admissionRequest() domain.AdmissionRequest {
	return domain.AdmissionRequest{
		CommunityID:     testCommunity,
		ApplicantID:     testApplicant,
		ApplicantChatID: testApplicant,
		FirstName:       "Ada",
		Username:        "ada",
		Bio:             "mathematician",
	}
}

func awaitSaga(t *testing.T, h *harness, sagaID string) {
	t.Helper()
	select {
	case <-h.engine.WaitDone(sagaID):
	case <-time.After(5 * time.Second):
		t.Fatalf("saga %s did not finish", sagaID)
	}
}

func TestAdmit_IgnoredCommunity(t *testing.T) {
	h := newHarness(t)

	res, err := h.orchestrator.Admit(context.Background(), admissionRequest(),
		&domain.Community{ID: testCommunity, Mode: domain.ModeForm})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	approved, declined, _ := h.api.counts()
	assert.Zero(t, approved)
	assert.Zero(t, declined)
}

func TestAdmit_AutoPass(t *testing.T) {
	h := newHarness(t)
	community := formCommunity()
	community.Mode = domain.ModePass

	res, err := h.orchestrator.Admit(context.Background(), admissionRequest(), community)
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, res.Outcome)

	approved, _, _ := h.api.counts()
	assert.Equal(t, 1, approved)

	row, err := h.pending.Get(context.Background(), testCommunity, testApplicant)
	require.NoError(t, err)
	assert.Nil(t, row, "auto-pass must not persist a pending row")

	private := h.api.sentTo(testApplicant)
	require.NotEmpty(t, private)
	assert.Contains(t, private[len(private)-1].Params.Text, "自动通过")
}

func TestSaga_ApproveWithoutAnswerUsesPlaceholder(t *testing.T) {
	h := newHarness(t)

	res, err := h.orchestrator.Admit(context.Background(), admissionRequest(), formCommunity())
	require.NoError(t, err)
	require.Equal(t, OutcomeSagaStarted, res.Outcome)

	// wait for the private prompt so the saga is known to be in its wait
	assert.Eventually(t, func() bool {
		for _, m := range h.api.sentTo(testApplicant) {
			if strings.Contains(m.Params.Text, "hi Ada") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.SendEvent(context.Background(), res.SagaID,
		EventAdminAction, AdminEvent{Action: domain.AdminActionApprove}))
	awaitSaga(t, h, res.SagaID)

	approved, _, _ := h.api.counts()
	assert.Equal(t, 1, approved)

	var welcome string
	for _, m := range h.api.sentTo(testCommunity) {
		if strings.Contains(m.Params.Text, "welcome") {
			welcome = m.Params.Text
		}
	}
	require.NotEmpty(t, welcome, "community welcome must be sent")
	assert.Contains(t, welcome, "管理员直接批准", "placeholder answer fills the template")

	row, err := h.pending.Get(context.Background(), testCommunity, testApplicant)
	require.NoError(t, err)
	assert.Nil(t, row, "pending row deleted by cleanup")
}

func TestSaga_AnswerSurfacedThenDeletedOnResolve(t *testing.T) {
	h := newHarness(t)

	res, err := h.orchestrator.Admit(context.Background(), admissionRequest(), formCommunity())
	require.NoError(t, err)

	require.NoError(t, h.engine.SendEvent(context.Background(), res.SagaID,
		EventApplicantAnswered, AnswerEvent{Answer: "because reasons", Details: "{}"}))

	var answerMessageID int64
	assert.Eventually(t, func() bool {
		for _, m := range h.api.sentTo(testCommunity) {
			if strings.Contains(m.Params.Text, "回答") {
				answerMessageID = m.MessageID
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "answer rendered into the community chat")

	require.NoError(t, h.engine.SendEvent(context.Background(), res.SagaID,
		EventAdminAction, AdminEvent{Action: domain.AdminActionApprove}))
	awaitSaga(t, h, res.SagaID)

	h.api.mu.Lock()
	deleted := append([]int64(nil), h.api.deleted...)
	h.api.mu.Unlock()
	assert.Contains(t, deleted, answerMessageID, "answer message removed during cleanup")
}

func TestSaga_TimeoutDeclines(t *testing.T) {
	h := newHarness(t)
	req := admissionRequest()

	require.NoError(t, h.pending.Upsert(context.Background(), &domain.PendingRequest{
		CommunityID: testCommunity,
		ApplicantID: testApplicant,
		SagaID:      "saga-timeout",
	}))
	require.NoError(t, h.engine.Start(context.Background(), WorkflowName, "saga-timeout", SagaParams{
		CommunityID:     req.CommunityID,
		ApplicantID:     req.ApplicantID,
		ApplicantChatID: req.ApplicantChatID,
		Config:          *formCommunity().Config,
		Deadline:        time.Now().Add(150 * time.Millisecond),
	}))
	awaitSaga(t, h, "saga-timeout")

	_, declined, _ := h.api.counts()
	assert.Equal(t, 1, declined)

	row, err := h.pending.Get(context.Background(), testCommunity, testApplicant)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSaga_AdminActionBeatsElapsedDeadline(t *testing.T) {
	h := newHarness(t)
	req := admissionRequest()
	ctx := context.Background()

	require.NoError(t, h.pending.Upsert(ctx, &domain.PendingRequest{
		CommunityID: testCommunity,
		ApplicantID: testApplicant,
		SagaID:      "saga-race",
	}))

	// The approval is queued before the saga ever runs, against a deadline
	// that has already passed; the decision must still win over the timeout.
	require.NoError(t, h.engine.Prepare(ctx, h.workflowStore, WorkflowName, "saga-race", SagaParams{
		CommunityID:     req.CommunityID,
		ApplicantID:     req.ApplicantID,
		ApplicantChatID: req.ApplicantChatID,
		Config:          *formCommunity().Config,
		Deadline:        time.Now().Add(-time.Second),
	}))
	payload, err := json.Marshal(AdminEvent{Action: domain.AdminActionApprove})
	require.NoError(t, err)
	_, err = h.workflowStore.AppendEvent(ctx, "saga-race", EventAdminAction, payload)
	require.NoError(t, err)

	require.NoError(t, h.engine.Launch(ctx, "saga-race"))
	awaitSaga(t, h, "saga-race")

	approved, declined, _ := h.api.counts()
	assert.Equal(t, 1, approved)
	assert.Zero(t, declined)
}

func TestSaga_BanDeclinesThenBans(t *testing.T) {
	h := newHarness(t)

	res, err := h.orchestrator.Admit(context.Background(), admissionRequest(), formCommunity())
	require.NoError(t, err)

	require.NoError(t, h.engine.SendEvent(context.Background(), res.SagaID,
		EventAdminAction, AdminEvent{Action: domain.AdminActionBan}))
	awaitSaga(t, h, res.SagaID)

	_, declined, banned := h.api.counts()
	assert.Equal(t, 1, declined)
	assert.Equal(t, 1, banned)
}

func TestAdmit_SupersedesInFlightSaga(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orchestrator.Admit(ctx, admissionRequest(), formCommunity())
	require.NoError(t, err)

	// a stale answer from the first attempt must not leak into the second
	require.NoError(t, h.answers.Insert(ctx, &domain.AnswerRecord{
		CommunityID: testCommunity,
		ApplicantID: testApplicant,
		Answer:      "old answer",
	}))

	second, err := h.orchestrator.Admit(ctx, admissionRequest(), formCommunity())
	require.NoError(t, err)

	assert.NotEqual(t, first.SagaID, second.SagaID)
	assert.False(t, second.Deadline.Before(first.Deadline))

	stale, err := h.answers.Get(ctx, testCommunity, testApplicant)
	require.NoError(t, err)
	assert.Nil(t, stale, "stale answer erased")

	row, err := h.pending.Get(ctx, testCommunity, testApplicant)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, second.SagaID, row.SagaID, "pending row reflects only the second saga")

	awaitSaga(t, h, first.SagaID)
	assert.False(t, h.engine.IsLive(first.SagaID), "first saga terminated")

	// resolve the second saga so the test leaves nothing running
	require.NoError(t, h.engine.SendEvent(ctx, second.SagaID,
		EventAdminAction, AdminEvent{Action: domain.AdminActionDecline}))
	awaitSaga(t, h, second.SagaID)
}
