package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventsMonitor/internal/config"
	"eventsMonitor/internal/metrics"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskRunning  = errors.New("task is still running")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusStarting Status = "Starting"
	StatusRunning  Status = "Running"
	StatusStopping Status = "Stopping"
	StatusStopped  Status = "Stopped"
	StatusFailed   Status = "Failed"
)

// Terminal reports whether the task run has finished.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// TaskDescriptor is a snapshot of one supervised task.
type TaskDescriptor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Runner is one ingestion pipeline. If it also implements io.Closer it is
// closed once Run returns.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds a Runner from a pipeline config. It runs inside the task,
// so a slow or failing build moves the task to Failed rather than blocking Create.
type Factory func(ctx context.Context, name string, cfg config.Config) (Runner, error)

type task struct {
	desc   TaskDescriptor
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs named pipelines concurrently and tracks their lifecycle.
type Supervisor struct {
	factory Factory
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[uuid.UUID]*task
}

func New(factory Factory, m *metrics.Metrics, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		factory: factory,
		metrics: m,
		logger:  logger.Named("supervisor"),
		now:     func() time.Time { return time.Now().UTC() },
		base:    base,
		cancel:  cancel,
		tasks:   make(map[uuid.UUID]*task),
	}
}

// Create starts a task and returns its descriptor in Starting state.
func (s *Supervisor) Create(name string, cfg config.Config) (TaskDescriptor, error) {
	if name == "" {
		return TaskDescriptor{}, fmt.Errorf("%w: task name is required", config.ErrConfig)
	}
	if err := s.base.Err(); err != nil {
		return TaskDescriptor{}, fmt.Errorf("supervisor is shut down: %w", err)
	}

	ctx, cancel := context.WithCancel(s.base)
	now := s.now()
	t := &task{
		desc: TaskDescriptor{
			ID:        uuid.New(),
			Name:      name,
			Status:    StatusStarting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks[t.desc.ID] = t
	desc := t.desc
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Info("task created", zap.String("task_id", desc.ID.String()), zap.String("name", name))
	go s.run(ctx, t, cfg)
	return desc, nil
}

func (s *Supervisor) run(ctx context.Context, t *task, cfg config.Config) {
	defer close(t.done)
	defer t.cancel()

	runner, err := s.factory(ctx, t.desc.Name, cfg)
	if err != nil {
		s.finish(ctx, t, err)
		return
	}
	if closer, ok := runner.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				s.logger.Warn("task close failed", zap.String("task_id", t.desc.ID.String()), zap.Error(err))
			}
		}()
	}

	if !s.transition(t, StatusStarting, StatusRunning) {
		s.finish(ctx, t, ctx.Err())
		return
	}
	s.finish(ctx, t, runner.Run(ctx))
}

// transition moves t from one status to another and reports whether it did.
func (s *Supervisor) transition(t *task, from, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.desc.Status != from {
		return false
	}
	t.desc.Status = to
	t.desc.UpdatedAt = s.now()
	s.publishLocked()
	s.logger.Info("task status", zap.String("task_id", t.desc.ID.String()), zap.String("status", string(to)))
	return true
}

func (s *Supervisor) finish(ctx context.Context, t *task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err()))
	switch {
	case err == nil || stopped:
		t.desc.Status = StatusStopped
		t.desc.Reason = ""
	default:
		t.desc.Status = StatusFailed
		t.desc.Reason = err.Error()
	}
	t.desc.UpdatedAt = s.now()
	s.publishLocked()

	fields := []zap.Field{zap.String("task_id", t.desc.ID.String()), zap.String("status", string(t.desc.Status))}
	if t.desc.Status == StatusFailed {
		s.logger.Error("task failed", append(fields, zap.String("reason", t.desc.Reason))...)
		return
	}
	s.logger.Info("task status", fields...)
}

// Stop asks a task to shut down. Lanes observe it at their next suspension point.
func (s *Supervisor) Stop(id uuid.UUID) (TaskDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return TaskDescriptor{}, ErrTaskNotFound
	}
	if !t.desc.Status.Terminal() && t.desc.Status != StatusStopping {
		t.desc.Status = StatusStopping
		t.desc.UpdatedAt = s.now()
		s.publishLocked()
		s.logger.Info("task status", zap.String("task_id", id.String()), zap.String("status", string(StatusStopping)))
		t.cancel()
	}
	return t.desc, nil
}

func (s *Supervisor) Get(id uuid.UUID) (TaskDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskDescriptor{}, ErrTaskNotFound
	}
	return t.desc, nil
}

// Wait blocks until the task run has finished and returns its final descriptor.
func (s *Supervisor) Wait(ctx context.Context, id uuid.UUID) (TaskDescriptor, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return TaskDescriptor{}, ErrTaskNotFound
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return TaskDescriptor{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return t.desc, nil
}

// List returns all descriptors ordered by creation time.
func (s *Supervisor) List() []TaskDescriptor {
	s.mu.Lock()
	out := make([]TaskDescriptor, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.desc)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete removes a finished task.
func (s *Supervisor) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !s.finishedLocked(t) {
		return ErrTaskRunning
	}
	delete(s.tasks, id)
	s.publishLocked()
	return nil
}

// Cleanup removes every finished task and returns the removed descriptors.
func (s *Supervisor) Cleanup() []TaskDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []TaskDescriptor
	for id, t := range s.tasks {
		if s.finishedLocked(t) {
			removed = append(removed, t.desc)
			delete(s.tasks, id)
		}
	}
	if len(removed) > 0 {
		s.publishLocked()
		s.logger.Info("tasks cleaned up", zap.Int("count", len(removed)))
	}
	return removed
}

func (s *Supervisor) finishedLocked(t *task) bool {
	if !t.desc.Status.Terminal() {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Shutdown stops every task and waits for them to finish or ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_, _ = s.Stop(id)
	}
	s.cancel()

	for _, id := range ids {
		s.mu.Lock()
		t, ok := s.tasks[id]
		s.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) publishLocked() {
	if s.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, t := range s.tasks {
		counts[string(t.desc.Status)]++
	}
	s.metrics.SetTasks(counts)
}
