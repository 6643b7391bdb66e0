package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentPrompt struct {
	CommunityID int64
	Text        string
	MessageID   int64
}

type fakeSender struct {
	mu       sync.Mutex
	sends    []sentPrompt
	deletes  []int64
	failNext int
	nextID   int64
}

func (f *fakeSender) SendPrompt(_ context.Context, communityID int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return 0, errors.New("send failed")
	}
	f.nextID++
	f.sends = append(f.sends, sentPrompt{CommunityID: communityID, Text: text, MessageID: f.nextID})
	return f.nextID, nil
}

func (f *fakeSender) DeletePrompt(_ context.Context, _ int64, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.sends))
	for i, s := range f.sends {
		texts[i] = s.Text
	}
	return texts
}

func (f *fakeSender) deleted() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.deletes...)
}

type memStateStore struct {
	mu   sync.Mutex
	data map[int64]map[string][]byte
}

func newMemStateStore() *memStateStore {
	return &memStateStore{data: make(map[int64]map[string][]byte)}
}

func (s *memStateStore) List(_ context.Context, communityID int64) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range s.data[communityID] {
		out[k] = v
	}
	return out, nil
}

func (s *memStateStore) Put(_ context.Context, communityID int64, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[communityID] == nil {
		s.data[communityID] = make(map[string][]byte)
	}
	s.data[communityID][key] = value
	return nil
}

func (s *memStateStore) Delete(_ context.Context, communityID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[communityID], key)
	return nil
}

func (s *memStateStore) DeleteAll(_ context.Context, communityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, communityID)
	return nil
}

func (s *memStateStore) seed(communityID int64, key string, value any) {
	encoded, _ := json.Marshal(value)
	_ = s.Put(context.Background(), communityID, key, encoded)
}

func (s *memStateStore) has(communityID int64, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[communityID][key]
	return ok
}

const testCommunity = int64(-100)

func startCoalescer(t *testing.T, sender *fakeSender, store *memStateStore, minInterval time.Duration) *Coalescer {
	t.Helper()
	c := newCoalescer(testCommunity, sender, store, minInterval, 20*time.Millisecond)
	t.Cleanup(c.Stop)
	return c
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestCoalescer_SendsLatestOnly(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	// debounce floor in the near future so both notifies land before the
	// first firing
	store.seed(testCommunity, keyStateVersion, currentStateVersion)
	store.seed(testCommunity, keyNextAllowedAt, time.Now().Add(100*time.Millisecond).UnixMilli())

	c := startCoalescer(t, sender, store, 50*time.Millisecond)
	c.Notify(1, "prompt for A")
	c.Notify(2, "prompt for B")

	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "exactly one send")
	assert.Equal(t, []string{"prompt for B"}, sender.sentTexts())
}

func TestCoalescer_DuplicateNotifyIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	c := startCoalescer(t, sender, store, 10*time.Millisecond)

	c.Notify(1, "prompt")
	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "first send")
	c.Notify(1, "prompt")

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.sentTexts(), 1)
}

func TestCoalescer_SwapDeletesPrevious(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	c := startCoalescer(t, sender, store, 20*time.Millisecond)

	c.Notify(1, "prompt for A")
	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "first send")
	c.Notify(2, "prompt for B")
	eventually(t, func() bool { return len(sender.sentTexts()) == 2 }, "swap send")

	assert.Equal(t, []int64{1}, sender.deleted(), "previous message removed after swap")
}

func TestCoalescer_DebounceSpacesSends(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	minInterval := 80 * time.Millisecond
	c := startCoalescer(t, sender, store, minInterval)

	c.Notify(1, "prompt for A")
	eventually(t, func() bool { return len(sender.sentTexts()) > 0 }, "first send")
	first := time.Now()
	c.Notify(2, "prompt for B")
	eventually(t, func() bool { return len(sender.sentTexts()) == 2 }, "second send")

	assert.GreaterOrEqual(t, time.Since(first), minInterval-10*time.Millisecond,
		"second swap must respect the minimum interval")
}

func TestCoalescer_ResetRetiresPrompt(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	c := startCoalescer(t, sender, store, 10*time.Millisecond)

	c.Notify(1, "prompt")
	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "send")
	c.Reset(1)

	eventually(t, func() bool { return len(sender.deleted()) == 1 }, "visible message deleted")
	assert.False(t, store.has(testCommunity, keyVisible))

	// resetting again is harmless
	c.Reset(1)
	assert.Len(t, sender.deleted(), 1)
}

func TestCoalescer_CleanupClearsDebounceFloor(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	c := startCoalescer(t, sender, store, 5*time.Second)

	c.Notify(1, "prompt for A")
	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "first send")
	c.Reset(1)
	eventually(t, func() bool { return len(sender.deleted()) == 1 }, "prompt retired")
	assert.False(t, store.has(testCommunity, keyNextAllowedAt))

	// with nothing on screen the next applicant is prompted right away, not
	// after the old interval
	c.Notify(2, "prompt for B")
	eventually(t, func() bool { return len(sender.sentTexts()) == 2 }, "immediate send after cleanup")
}

func TestCoalescer_ResetSwapsToRemaining(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	c := startCoalescer(t, sender, store, 10*time.Millisecond)

	c.Notify(1, "prompt for A")
	c.Notify(2, "prompt for B")
	eventually(t, func() bool {
		texts := sender.sentTexts()
		return len(texts) > 0 && texts[len(texts)-1] == "prompt for B"
	}, "B visible")

	// B resolves; A is still waiting and must take over the display.
	c.Reset(2)
	eventually(t, func() bool {
		texts := sender.sentTexts()
		return texts[len(texts)-1] == "prompt for A"
	}, "A shown after B resolved")
}

func TestCoalescer_RetriesFailedSend(t *testing.T) {
	sender := &fakeSender{failNext: 2}
	store := newMemStateStore()
	c := startCoalescer(t, sender, store, 10*time.Millisecond)

	c.Notify(1, "prompt")
	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "send succeeds after retries")
}

func TestCoalescer_ResumesPersistedAlarm(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	store.seed(testCommunity, keyStateVersion, currentStateVersion)
	store.seed(testCommunity, taskKey(7), Task{User: 7, Text: "resumed prompt", UpdatedAt: 100})
	store.seed(testCommunity, keyAlarmAt, time.Now().Add(-time.Second).UnixMilli())

	startCoalescer(t, sender, store, 10*time.Millisecond)
	eventually(t, func() bool { return len(sender.sentTexts()) == 1 }, "send after resume")
	assert.Equal(t, []string{"resumed prompt"}, sender.sentTexts())
}

func TestCoalescer_MigratesLegacyState(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	store.seed(testCommunity, legacyTaskKey, map[string]any{"user": "7"})
	store.seed(testCommunity, legacyUserPrefix+"7", true)
	store.seed(testCommunity, legacyVisibleKey, map[string]int64{"chat": testCommunity, "message": 55, "user": 7})

	c := startCoalescer(t, sender, store, 10*time.Millisecond)
	// a synchronous op proves load() has finished
	c.Notify(1, "fresh prompt")

	assert.False(t, store.has(testCommunity, legacyTaskKey))
	assert.False(t, store.has(testCommunity, legacyUserPrefix+"7"))
	assert.False(t, store.has(testCommunity, legacyVisibleKey))
	assert.True(t, store.has(testCommunity, keyStateVersion))
	assert.Contains(t, sender.deleted(), int64(55), "pre-migration message deleted")
}

func TestCoalescer_DropsMalformedEntries(t *testing.T) {
	sender := &fakeSender{}
	store := newMemStateStore()
	store.seed(testCommunity, keyStateVersion, currentStateVersion)
	require.NoError(t, store.Put(context.Background(), testCommunity, taskKey(9), []byte("{not json")))

	c := startCoalescer(t, sender, store, 10*time.Millisecond)
	c.Notify(1, "prompt")

	assert.False(t, store.has(testCommunity, taskKey(9)))
}
