package policebox

import (
	"sort"
	"time"
)

// fakeScheduler 按时间顺序执行回调的最小调度器
type fakeScheduler struct {
	now   time.Duration
	seq   TaskID
	tasks map[TaskID]fakeTask
}

type fakeTask struct {
	at time.Duration
	fn func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[TaskID]fakeTask)}
}

func (s *fakeScheduler) Now() time.Duration { return s.now }

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) TaskID {
	s.seq++
	s.tasks[s.seq] = fakeTask{at: s.now + delay, fn: fn}
	return s.seq
}

func (s *fakeScheduler) Cancel(id TaskID) { delete(s.tasks, id) }

func (s *fakeScheduler) Pending() int { return len(s.tasks) }

// Advance 执行截止到 now+d 的所有回调
func (s *fakeScheduler) Advance(d time.Duration) {
	end := s.now + d
	for {
		ids := make([]TaskID, 0, len(s.tasks))
		for id, task := range s.tasks {
			if task.at <= end {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			break
		}
		sort.Slice(ids, func(i, j int) bool {
			a, b := s.tasks[ids[i]], s.tasks[ids[j]]
			if a.at != b.at {
				return a.at < b.at
			}
			return ids[i] < ids[j]
		})
		task := s.tasks[ids[0]]
		delete(s.tasks, ids[0])
		s.now = task.at
		task.fn()
	}
	s.now = end
}

// recordSink 记录收到的遥测
type recordSink struct {
	intervals []*IntervalRecord
	stats     []*StatsRecord
	closed    int
}

func (r *recordSink) OnInterval(rec *IntervalRecord) { r.intervals = append(r.intervals, rec) }
func (r *recordSink) OnStats(rec *StatsRecord)       { r.stats = append(r.stats, rec) }
func (r *recordSink) Close() error {
	r.closed++
	return nil
}
