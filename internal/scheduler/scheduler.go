// Package scheduler runs the meter's periodic housekeeping tasks, such as
// pruning the diagnostics journal and sampling process usage.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// RunAtStart runs the task once immediately instead of waiting a full interval.
	RunAtStart bool
}

// TaskStatus reports how a task has fared so far.
type TaskStatus struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []Task
	status map[string]*TaskStatus
	now    func() time.Time
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		status: make(map[string]*TaskStatus),
		now:    time.Now,
	}
}

// Add registers a task. It must be called before Start.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.status[task.Name]; exists {
		return fmt.Errorf("task %s already registered", task.Name)
	}
	s.tasks = append(s.tasks, task)
	s.status[task.Name] = &TaskStatus{Name: task.Name, Interval: task.Interval.String()}
	return nil
}

// Start runs every task on its own ticker and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	log.Info().Int("tasks", len(tasks)).Msg("scheduler started")

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(task)
	}

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	if t.RunAtStart {
		s.RunNow(ctx, t.Name)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunNow(ctx, t.Name)
		}
	}
}

// RunNow executes the named task synchronously and records the outcome.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var task *Task
	for i := range s.tasks {
		if s.tasks[i].Name == name {
			task = &s.tasks[i]
			break
		}
	}
	s.mu.Unlock()
	if task == nil {
		return fmt.Errorf("task %s not registered", name)
	}

	start := s.now()
	err := task.Run(ctx)

	s.mu.Lock()
	st := s.status[name]
	st.Runs++
	st.LastRun = start
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("task", name).Msg("scheduled task failed")
		return err
	}
	log.Debug().Str("task", name).Dur("took", s.now().Sub(start)).Msg("scheduled task completed")
	return nil
}

// Status returns a copy of every task status sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
