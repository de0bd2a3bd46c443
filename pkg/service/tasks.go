package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/ratelimit"
)

// DefaultRefreshInterval is the minimum spacing between list refreshes.
const DefaultRefreshInterval = 10 * time.Second

// Tasks calls the /task routes.
type Tasks struct {
	conn     Conn
	log      *slog.Logger
	throttle *ratelimit.Throttle
}

// TasksOption configures Tasks.
type TasksOption func(*Tasks)

// WithTasksLogger sets the logger.
func WithTasksLogger(log *slog.Logger) TasksOption {
	return func(t *Tasks) { t.log = log }
}

// WithRefreshThrottle replaces the throttle used by Refresh.
func WithRefreshThrottle(th *ratelimit.Throttle) TasksOption {
	return func(t *Tasks) { t.throttle = th }
}

// NewTasks returns a task service over conn.
func NewTasks(conn Conn, opts ...TasksOption) *Tasks {
	t := &Tasks{conn: conn}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	t.log = t.log.With("component", "taskwire.tasks")
	if t.throttle == nil {
		t.throttle = ratelimit.New(DefaultRefreshInterval, nil)
	}
	return t
}

// Add creates a task.
func (t *Tasks) Add(ctx context.Context, task NewTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	_, err := t.conn.Request(ctx, RouteTaskAdd, task)
	return err
}

// Edit replaces every field of an existing task except its status.
func (t *Tasks) Edit(ctx context.Context, task Task) error {
	_, err := t.conn.Request(ctx, RouteTaskEdit, taskEdit{
		ID:      task.ID,
		Name:    task.Name,
		Type:    task.Type,
		Time:    task.Time,
		Member:  task.Member,
		Content: task.Content,
	})
	return err
}

// List fetches tasks matching filter.
func (t *Tasks) List(ctx context.Context, filter ListFilter) (*TaskList, error) {
	list, err := call[TaskList](ctx, t.conn, RouteTaskList, filter)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// Refresh lists tasks and passes the result to fn, at most once per
// throttle interval. Calls inside the window collapse into one trailing
// refresh with the latest filter. It reports whether the refresh ran
// immediately.
func (t *Tasks) Refresh(filter ListFilter, fn func(*TaskList, error)) bool {
	return t.throttle.Do(RouteTaskList, func() {
		fn(t.List(context.Background(), filter))
	})
}

// Delete marks a task deleted.
func (t *Tasks) Delete(ctx context.Context, id int64) error {
	return t.update(ctx, id, StatusDelete)
}

// Start puts a task in progress.
func (t *Tasks) Start(ctx context.Context, id int64) error {
	return t.update(ctx, id, StatusProgress)
}

// Stop cancels a task.
func (t *Tasks) Stop(ctx context.Context, id int64) error {
	return t.update(ctx, id, StatusCancel)
}

func (t *Tasks) update(ctx context.Context, id int64, status TaskStatus) error {
	_, err := t.conn.Request(ctx, RouteTaskUpdate, taskUpdate{ID: id, Status: status})
	return err
}

// OnStateUpdate subscribes to task status changes.
func (t *Tasks) OnStateUpdate(fn func([]Task)) (*client.Subscription, error) {
	return subscribe(t.conn, t.log, EventTaskStateUpdate, fn)
}

// OnAdded subscribes to newly created tasks.
func (t *Tasks) OnAdded(fn func([]Task)) (*client.Subscription, error) {
	return subscribe(t.conn, t.log, EventTaskAdded, fn)
}

// OnListUpdate subscribes to full list replacements.
func (t *Tasks) OnListUpdate(fn func([]Task)) (*client.Subscription, error) {
	return subscribe(t.conn, t.log, EventTaskListUpdate, fn)
}

// OnBlockNum subscribes to the server's block counter.
func (t *Tasks) OnBlockNum(fn func(int64)) (*client.Subscription, error) {
	return subscribe(t.conn, t.log, EventBlockNum, fn)
}

// OnInfo subscribes to activity log lines.
func (t *Tasks) OnInfo(fn func(Info)) (*client.Subscription, error) {
	return subscribe(t.conn, t.log, EventInfo, fn)
}

// Close stops queued refreshes.
func (t *Tasks) Close() { t.throttle.Stop() }
