package notify

// Task is one applicant's pending "needs a prompt" marker.
type Task struct {
	User      int64  `json:"user"`
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updatedAt"` // unix milliseconds
}

// Visible identifies the community message currently on display and whose
// prompt it carries. At most one exists per community.
type Visible struct {
	User    int64 `json:"user"`
	Message int64 `json:"message"`
}

type actionKind int

const (
	actionKeep actionKind = iota
	actionCleanup
	actionSchedule
	actionSend
)

// action is the outcome of one decision: keep the current timer state,
// clean everything up, schedule a firing at a time, or send now.
type action struct {
	kind actionKind
	at   int64
}

// latestTask returns the most recently updated task, ties broken by applicant
// id so the choice is deterministic. Nil when no task is pending.
func latestTask(tasks map[int64]Task) *Task {
	var latest *Task
	for user := range tasks {
		task := tasks[user]
		if latest == nil || task.UpdatedAt > latest.UpdatedAt ||
			(task.UpdatedAt == latest.UpdatedAt && task.User > latest.User) {
			latest = &task
		}
	}
	return latest
}

// scheduleAtLeastNow clamps a desired firing time to the debounce floor.
func scheduleAtLeastNow(now, nextAllowedAt int64) int64 {
	if nextAllowedAt > now {
		return nextAllowedAt
	}
	return now
}

// shouldScheduleOnNotify reports whether a new latest task requires a visible
// message swap. False when the display already shows that applicant.
func shouldScheduleOnNotify(visible *Visible, latest *Task) bool {
	return visible == nil || visible.User != latest.User
}

// decideFire evaluates the timer callback against the current state.
func decideFire(now int64, tasks map[int64]Task, visible *Visible, nextAllowedAt int64) action {
	latest := latestTask(tasks)
	if latest == nil {
		return action{kind: actionCleanup}
	}
	if visible != nil && visible.User == latest.User {
		return action{kind: actionKeep}
	}
	if now < nextAllowedAt {
		return action{kind: actionSchedule, at: nextAllowedAt}
	}
	return action{kind: actionSend}
}

// decideReset evaluates a reset after the applicant's task has been removed
// from tasks.
func decideReset(now int64, tasks map[int64]Task, visible *Visible, resetUser, nextAllowedAt int64) action {
	if latestTask(tasks) == nil {
		return action{kind: actionCleanup}
	}
	at := scheduleAtLeastNow(now, nextAllowedAt)
	if visible == nil {
		return action{kind: actionSchedule, at: at}
	}
	if visible.User == resetUser {
		return action{kind: actionSchedule, at: at}
	}
	if _, stillPending := tasks[visible.User]; !stillPending {
		return action{kind: actionSchedule, at: at}
	}
	return action{kind: actionKeep}
}
