// Package taskstore is the in-memory task and WeChat user backend behind
// the reference server.
package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
	"github.com/vango-dev/taskwire/pkg/server"
	"github.com/vango-dev/taskwire/pkg/service"
)

// Broadcaster fans pushes out to every connected session.
type Broadcaster interface {
	Broadcast(event string, status protocol.Status, data any) (int, error)
}

// Store holds tasks and user names and announces every change.
type Store struct {
	clock clock.Clock
	log   *slog.Logger
	out   Broadcaster

	mu     sync.Mutex
	tasks  map[int64]*service.Task
	nextID int64
	users  []string
	block  int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for block ticks and info timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New returns an empty store that announces changes through out.
func New(out Broadcaster, opts ...Option) *Store {
	s := &Store{
		out:   out,
		tasks: make(map[int64]*service.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "taskwire.taskstore")
	return s
}

// Register installs the store's routes on srv and sends the current task
// list to each new session.
func Register(srv *server.Server, s *Store) {
	srv.Handle(service.RouteTaskAdd, server.DecodeJSON(s.addTask))
	srv.Handle(service.RouteTaskEdit, server.DecodeJSON(s.editTask))
	srv.Handle(service.RouteTaskList, server.DecodeJSON(s.listTasks))
	srv.Handle(service.RouteTaskUpdate, server.DecodeJSON(s.updateTask))
	srv.Handle(service.RouteWxUserAdd, server.DecodeJSON(s.addUser))
	srv.Handle(service.RouteWxUserList, func(context.Context, *protocol.Request) (any, error) {
		return s.Users(), nil
	})
	srv.OnConnect(func(sess *server.Session) {
		if err := sess.Push(service.EventTaskListUpdate, protocol.StatusOK, s.Tasks()); err != nil {
			s.log.Warn("initial list push failed", "session", sess.ID(), "error", err)
		}
	})
}

// Tasks returns every task that is not deleted, ordered by id.
func (s *Store) Tasks() []service.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked(service.ListFilter{})
}

// Users returns the registered names in insertion order.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.users...)
}

// Block returns the current block counter.
func (s *Store) Block() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

func (s *Store) filterLocked(f service.ListFilter) []service.Task {
	keyword := strings.ToLower(strings.TrimSpace(f.Keyword))
	out := make([]service.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Status != 0 {
			if t.Status != f.Status {
				continue
			}
		} else if t.Status == service.StatusDelete {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(t.Name), keyword) &&
			!strings.Contains(strings.ToLower(t.Content), keyword) {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(t *service.Task) service.Task {
	c := *t
	c.Member = append([]string(nil), t.Member...)
	return c
}

func (s *Store) addTask(ctx context.Context, in service.NewTask) (any, error) {
	if err := in.Validate(); err != nil {
		return nil, server.Errorf(protocol.StatusBadRequest, "%v", err)
	}
	s.mu.Lock()
	s.nextID++
	t := &service.Task{
		ID:      s.nextID,
		Name:    strings.TrimSpace(in.Name),
		Type:    in.Type,
		Status:  service.StatusNotStarted,
		Time:    in.Time,
		Member:  in.Member,
		Content: in.Content,
	}
	s.tasks[t.ID] = t
	added := clone(t)
	s.mu.Unlock()

	s.log.Info("task added", "id", added.ID, "name", added.Name)
	s.announce(service.EventTaskAdded, []service.Task{added})
	s.info(service.InfoSuccess, "task %q created", added.Name)
	return added, nil
}

// taskEdit mirrors the /task/edit payload.
type taskEdit struct {
	ID      int64            `json:"id"`
	Name    string           `json:"name"`
	Type    service.TaskType `json:"type"`
	Time    int64            `json:"time"`
	Member  []string         `json:"member"`
	Content string           `json:"content"`
}

func (s *Store) editTask(ctx context.Context, in taskEdit) (any, error) {
	check := service.NewTask{Name: in.Name, Type: in.Type, Time: in.Time}
	if err := check.Validate(); err != nil {
		return nil, server.Errorf(protocol.StatusBadRequest, "%v", err)
	}
	s.mu.Lock()
	t, ok := s.tasks[in.ID]
	if !ok || t.Status == service.StatusDelete {
		s.mu.Unlock()
		return nil, server.Errorf(protocol.StatusNotFound, "task %d not found", in.ID)
	}
	t.Name = strings.TrimSpace(in.Name)
	t.Type = in.Type
	t.Time = in.Time
	t.Member = in.Member
	t.Content = in.Content
	list := s.filterLocked(service.ListFilter{})
	s.mu.Unlock()

	s.announce(service.EventTaskListUpdate, list)
	return nil, nil
}

func (s *Store) listTasks(ctx context.Context, f service.ListFilter) (any, error) {
	if f.Status != 0 && !f.Status.Valid() {
		return nil, server.Errorf(protocol.StatusBadRequest, "unknown status %d", int(f.Status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := service.TaskList{List: s.filterLocked(f)}
	for _, t := range s.tasks {
		if t.Status == service.StatusProgress {
			list.RunningCount++
		}
	}
	return list, nil
}

// taskUpdate mirrors the /task/update payload.
type taskUpdate struct {
	ID     int64              `json:"id"`
	Status service.TaskStatus `json:"status"`
}

func (s *Store) updateTask(ctx context.Context, in taskUpdate) (any, error) {
	if !in.Status.Valid() {
		return nil, server.Errorf(protocol.StatusBadRequest, "unknown status %d", int(in.Status))
	}
	s.mu.Lock()
	t, ok := s.tasks[in.ID]
	if !ok || t.Status == service.StatusDelete {
		s.mu.Unlock()
		return nil, server.Errorf(protocol.StatusNotFound, "task %d not found", in.ID)
	}
	t.Status = in.Status
	updated := clone(t)
	s.mu.Unlock()

	s.log.Info("task status changed", "id", updated.ID, "status", updated.Status.String())
	s.announce(service.EventTaskStateUpdate, []service.Task{updated})
	s.info(service.InfoNormal, "task %q is now %s", updated.Name, updated.Status)
	return nil, nil
}

func (s *Store) addUser(ctx context.Context, in service.WxUser) (any, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, server.Errorf(protocol.StatusBadRequest, "name is required")
	}
	s.mu.Lock()
	for _, u := range s.users {
		if u == name {
			s.mu.Unlock()
			return nil, server.Errorf(protocol.StatusBadRequest, "user %q already exists", name)
		}
	}
	s.users = append(s.users, name)
	s.mu.Unlock()

	s.announce(service.EventWxUserAdded, []string{name})
	return nil, nil
}

func (s *Store) announce(event string, data any) {
	if s.out == nil {
		return
	}
	if _, err := s.out.Broadcast(event, protocol.StatusOK, data); err != nil {
		s.log.Error("broadcast failed", "event", event, "error", err)
	}
}

func (s *Store) info(level service.InfoLevel, format string, args ...any) {
	s.announce(service.EventInfo, service.Info{
		SendTime: s.clock.Now().UnixMilli(),
		Msg:      fmt.Sprintf(format, args...),
		Status:   level,
	})
}

// Tick advances the block counter and announces it.
func (s *Store) Tick() int64 {
	s.mu.Lock()
	s.block++
	n := s.block
	s.mu.Unlock()
	s.announce(service.EventBlockNum, n)
	return n
}

// Run ticks the block counter every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-ctx.Done():
			return
		}
	}
}
