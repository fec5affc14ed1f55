// Package jobs turns the target list given on the command line into a queue
// of check jobs shared by all workers.
package jobs

import (
	"strings"
	"sync"
	"unicode"

	"github.com/CZERTAINLY/checkpar/internal/model"
)

// ParseTargets splits a comma or whitespace separated list of targets.
// Order and duplicates are kept, empty items are dropped.
func ParseTargets(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Queue hands every job to exactly one caller of Next.
type Queue struct {
	mx   sync.Mutex
	jobs []model.Job
	next int
}

func NewQueue(targets []string) *Queue {
	jobs := make([]model.Job, len(targets))
	for i, t := range targets {
		jobs[i] = model.Job{ID: i, Target: t}
	}
	return &Queue{jobs: jobs}
}

// Next dequeues the next job. It never blocks, false means the queue is
// drained.
func (q *Queue) Next() (model.Job, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.next >= len(q.jobs) {
		return model.Job{}, false
	}
	j := q.jobs[q.next]
	q.next++
	return j, true
}

// Len returns the number of submitted jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Remaining returns the number of jobs not dequeued yet.
func (q *Queue) Remaining() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.jobs) - q.next
}
