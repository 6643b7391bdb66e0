package notify

import (
	"sync"
	"time"

	"gatekeeper-backend/internal/repository"
)

// Manager hands out the per-community actor, creating it lazily on first
// use. Actors live until Shutdown.
type Manager struct {
	sender      Sender
	store       repository.NotifyStateRepository
	minInterval time.Duration
	retryDelay  time.Duration

	mu     sync.Mutex
	actors map[int64]*Coalescer
}

func NewManager(sender Sender, store repository.NotifyStateRepository, minInterval, retryDelay time.Duration) *Manager {
	return &Manager{
		sender:      sender,
		store:       store,
		minInterval: minInterval,
		retryDelay:  retryDelay,
		actors:      make(map[int64]*Coalescer),
	}
}

func (m *Manager) For(communityID int64) *Coalescer {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.actors[communityID]
	if !ok {
		actor = newCoalescer(communityID, m.sender, m.store, m.minInterval, m.retryDelay)
		m.actors[communityID] = actor
	}
	return actor
}

func (m *Manager) Notify(communityID, user int64, text string) {
	m.For(communityID).Notify(user, text)
}

func (m *Manager) Reset(communityID, user int64) {
	m.For(communityID).Reset(user)
}

func (m *Manager) Shutdown() {
	m.mu.Lock()
	actors := make([]*Coalescer, 0, len(m.actors))
	for _, actor := range m.actors {
		actors = append(actors, actor)
	}
	m.actors = make(map[int64]*Coalescer)
	m.mu.Unlock()

	for _, actor := range actors {
		actor.Stop()
	}
}
