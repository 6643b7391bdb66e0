// Package notify owns the community-visible "pending applicant" prompt.
// Each community gets one single-writer actor that coalesces notify/reset
// churn into at most one visible message, debounced to a minimum interval
// between swaps. State is persisted per mutation so an actor can pick up
// where a previous process left off.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/repository"
)

// Sender posts and removes the visible community prompt.
type Sender interface {
	SendPrompt(ctx context.Context, communityID int64, text string) (messageID int64, err error)
	DeletePrompt(ctx context.Context, communityID, messageID int64) error
}

const currentStateVersion = 2

const (
	keyStateVersion  = "stateVersion"
	keyVisible       = "visible"
	keyNextAllowedAt = "nextAllowedAt"
	keyAlarmAt       = "alarmAt"
	taskKeyPrefix    = "task:"

	// keys written by the pre-v2 schema, purged during migration
	legacyTaskKey    = "task"
	legacyUserPrefix = "user:"
	legacyVisibleKey = "last"
)

func taskKey(user int64) string {
	return taskKeyPrefix + strconv.FormatInt(user, 10)
}

// Coalescer is the actor for one community. All state below the ops channel
// is owned by the actor goroutine and never touched from outside.
type Coalescer struct {
	communityID int64
	sender      Sender
	store       repository.NotifyStateRepository
	minInterval time.Duration
	retryDelay  time.Duration
	now         func() time.Time
	log         *slog.Logger

	ops      chan func()
	closed   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	tasks         map[int64]Task
	visible       *Visible
	nextAllowedAt int64
	alarmAt       int64 // unix ms of the pending firing, 0 when none
}

func newCoalescer(communityID int64, sender Sender, store repository.NotifyStateRepository, minInterval, retryDelay time.Duration) *Coalescer {
	c := &Coalescer{
		communityID: communityID,
		sender:      sender,
		store:       store,
		minInterval: minInterval,
		retryDelay:  retryDelay,
		now:         time.Now,
		log:         logger.WithComponent("notify").With("community", communityID),
		ops:         make(chan func(), 16),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
		tasks:       make(map[int64]Task),
	}
	go c.run()
	return c
}

// Notify upserts the applicant's pending task with the rendered prompt text.
func (c *Coalescer) Notify(user int64, text string) {
	c.do(func() { c.handleNotify(user, text) })
}

// Reset removes the applicant's pending task, retiring their prompt.
func (c *Coalescer) Reset(user int64) {
	c.do(func() { c.handleReset(user) })
}

// Stop shuts the actor down. Pending timer work is abandoned; persisted
// state lets the next actor resume it.
func (c *Coalescer) Stop() {
	c.stopOnce.Do(func() { close(c.closed) })
	<-c.done
}

// do runs fn inside the actor goroutine and waits for it to finish, which
// is what serializes every operation for this community.
func (c *Coalescer) do(fn func()) {
	finished := make(chan struct{})
	select {
	case c.ops <- func() {
		fn()
		close(finished)
	}:
	case <-c.closed:
		return
	}
	select {
	case <-finished:
	case <-c.done:
	}
}

func (c *Coalescer) run() {
	defer close(c.done)
	c.load()
	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if c.alarmAt > 0 {
			wait := time.Duration(c.alarmAt-c.nowMs()) * time.Millisecond
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case op := <-c.ops:
			op()
		case <-timerC:
			c.fire()
		case <-c.closed:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (c *Coalescer) nowMs() int64 {
	return c.now().UnixMilli()
}

func (c *Coalescer) handleNotify(user int64, text string) {
	if existing, ok := c.tasks[user]; ok && existing.Text == text {
		return // duplicate delivery of the same prompt
	}
	now := c.nowMs()
	task := Task{User: user, Text: text, UpdatedAt: now}
	c.tasks[user] = task
	c.persist(taskKey(user), task)

	latest := latestTask(c.tasks)
	if !shouldScheduleOnNotify(c.visible, latest) {
		c.clearAlarm()
		return
	}
	c.schedule(scheduleAtLeastNow(now, c.nextAllowedAt))
}

func (c *Coalescer) handleReset(user int64) {
	if _, ok := c.tasks[user]; ok {
		delete(c.tasks, user)
		c.remove(taskKey(user))
	}
	switch act := decideReset(c.nowMs(), c.tasks, c.visible, user, c.nextAllowedAt); act.kind {
	case actionCleanup:
		c.cleanup()
	case actionSchedule:
		c.schedule(act.at)
	case actionKeep:
	}
}

func (c *Coalescer) fire() {
	now := c.nowMs()
	switch act := decideFire(now, c.tasks, c.visible, c.nextAllowedAt); act.kind {
	case actionCleanup:
		c.cleanup()
	case actionKeep:
		c.clearAlarm()
	case actionSchedule:
		c.schedule(act.at)
	case actionSend:
		c.send(now)
	}
}

func (c *Coalescer) send(now int64) {
	latest := latestTask(c.tasks)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messageID, err := c.sender.SendPrompt(ctx, c.communityID, latest.Text)
	if err != nil {
		c.log.Warn("Failed to send community prompt, retrying", "error", err)
		c.schedule(now + c.retryDelay.Milliseconds())
		return
	}

	previous := c.visible
	c.visible = &Visible{User: latest.User, Message: messageID}
	c.nextAllowedAt = now + c.minInterval.Milliseconds()
	c.persist(keyVisible, c.visible)
	c.persist(keyNextAllowedAt, c.nextAllowedAt)
	c.clearAlarm()

	if previous != nil {
		if err := c.sender.DeletePrompt(ctx, c.communityID, previous.Message); err != nil {
			c.log.Warn("Failed to delete replaced prompt", "message", previous.Message, "error", err)
		}
	}
}

// cleanup retires the visible message, the timer, and the debounce floor;
// the interval only spaces out replacements of an on-screen message.
func (c *Coalescer) cleanup() {
	c.clearAlarm()
	if c.nextAllowedAt != 0 {
		c.nextAllowedAt = 0
		c.remove(keyNextAllowedAt)
	}
	if c.visible == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.sender.DeletePrompt(ctx, c.communityID, c.visible.Message); err != nil {
		c.log.Warn("Failed to delete retired prompt", "message", c.visible.Message, "error", err)
	}
	c.visible = nil
	c.remove(keyVisible)
}

func (c *Coalescer) schedule(at int64) {
	c.alarmAt = at
	c.persist(keyAlarmAt, at)
}

func (c *Coalescer) clearAlarm() {
	if c.alarmAt == 0 {
		return
	}
	c.alarmAt = 0
	c.remove(keyAlarmAt)
}

func (c *Coalescer) persist(key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		c.log.Error("Failed to encode state entry", "key", key, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.Put(ctx, c.communityID, key, encoded); err != nil {
		c.log.Error("Failed to persist state entry", "key", key, "error", err)
	}
}

func (c *Coalescer) remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.Delete(ctx, c.communityID, key); err != nil {
		c.log.Error("Failed to delete state entry", "key", key, "error", err)
	}
}

// load hydrates actor state from storage, migrating older schema revisions
// first. Malformed entries are deleted and logged rather than failing the
// actor.
func (c *Coalescer) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := c.store.List(ctx, c.communityID)
	if err != nil {
		c.log.Error("Failed to load state, starting empty", "error", err)
		return
	}

	version := 0
	if raw, ok := state[keyStateVersion]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			version = 0
		}
	}
	if version < currentStateVersion {
		c.migrate(ctx, state)
	}

	for key, raw := range state {
		switch {
		case key == keyStateVersion:
		case strings.HasPrefix(key, taskKeyPrefix):
			var task Task
			if err := json.Unmarshal(raw, &task); err != nil || task.User == 0 {
				c.log.Warn("Dropping malformed task entry", "key", key)
				c.remove(key)
				continue
			}
			c.tasks[task.User] = task
		case key == keyVisible:
			visible := &Visible{}
			if err := json.Unmarshal(raw, visible); err != nil || visible.Message == 0 {
				c.log.Warn("Dropping malformed visible-message entry")
				c.remove(key)
				continue
			}
			c.visible = visible
		case key == keyNextAllowedAt:
			if err := json.Unmarshal(raw, &c.nextAllowedAt); err != nil {
				c.log.Warn("Dropping malformed debounce entry")
				c.remove(key)
			}
		case key == keyAlarmAt:
			if err := json.Unmarshal(raw, &c.alarmAt); err != nil {
				c.log.Warn("Dropping malformed alarm entry")
				c.remove(key)
			}
		default:
			c.log.Warn("Dropping unknown state entry", "key", key)
			c.remove(key)
		}
	}
}

// migrate purges entries written by the pre-v2 schema: the single shared
// task slot, per-user marker keys, and the old visible-message record whose
// on-screen message is deleted outright.
func (c *Coalescer) migrate(ctx context.Context, state map[string][]byte) {
	for key, raw := range state {
		switch {
		case key == legacyTaskKey, strings.HasPrefix(key, legacyUserPrefix):
			c.remove(key)
			delete(state, key)
		case key == legacyVisibleKey:
			var legacy struct {
				Chat    int64 `json:"chat"`
				Message int64 `json:"message"`
				User    int64 `json:"user"`
			}
			if err := json.Unmarshal(raw, &legacy); err == nil && legacy.Message != 0 {
				if err := c.sender.DeletePrompt(ctx, c.communityID, legacy.Message); err != nil {
					c.log.Warn("Failed to delete pre-migration prompt", "error", err)
				}
			}
			c.remove(key)
			delete(state, key)
		}
	}
	c.persist(keyStateVersion, currentStateVersion)
	c.log.Info("Migrated coalescer state", "version", currentStateVersion)
}
