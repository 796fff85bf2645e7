package scheduler

import (
	"sort"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

type entry struct {
	task *domain.Task
	seq  uint64
}

// queue keeps pending tasks ordered by (ScheduledFor, insertion sequence).
// It is not safe for concurrent use; the Scheduler guards it.
type queue struct {
	entries []entry
	nextSeq uint64
}

func (q *queue) push(t *domain.Task) {
	e := entry{task: t, seq: q.nextSeq}
	q.nextSeq++
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].task.ScheduledFor.After(t.ScheduledFor)
	})
	q.entries = append(q.entries, entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// popDue removes and returns the earliest task that is due at now and whose
// platform admits it. Tasks of a platform that does not admit are skipped,
// not reordered.
func (q *queue) popDue(now time.Time, admit func(platform string) bool) *domain.Task {
	denied := map[string]bool{}
	for i, e := range q.entries {
		if e.task.ScheduledFor.After(now) {
			return nil
		}
		p := e.task.Target.Platform
		if denied[p] {
			continue
		}
		if !admit(p) {
			denied[p] = true
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return e.task
	}
	return nil
}

func (q *queue) len() int { return len(q.entries) }

func (q *queue) find(id string) *domain.Task {
	for _, e := range q.entries {
		if e.task.ID == id {
			return e.task
		}
	}
	return nil
}

func (q *queue) snapshot() []*domain.Task {
	out := make([]*domain.Task, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.task.Clone())
	}
	return out
}

// depth counts pending tasks per platform.
func (q *queue) depth() map[string]int {
	out := map[string]int{}
	for _, e := range q.entries {
		out[e.task.Target.Platform]++
	}
	return out
}
