package service

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskType is how a task is scheduled.
type TaskType string

const (
	// FixTime tasks run at a fixed wall-clock time.
	FixTime TaskType = "fixTime"
	// IntervalTime tasks run repeatedly at a fixed interval.
	IntervalTime TaskType = "intervalTime"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool { return t == FixTime || t == IntervalTime }

// TaskStatus is the lifecycle of a task on the server.
type TaskStatus int

const (
	StatusNotStarted TaskStatus = iota + 1
	StatusProgress
	StatusComplete
	StatusCancel
	StatusDelete
)

var statusNames = map[TaskStatus]string{
	StatusNotStarted: "nostarted",
	StatusProgress:   "progress",
	StatusComplete:   "complete",
	StatusCancel:     "cancel",
	StatusDelete:     "delete",
}

func (s TaskStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "TaskStatus(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the five statuses.
func (s TaskStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseTaskStatus accepts a status name or its number.
func ParseTaskStatus(s string) (TaskStatus, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && TaskStatus(n).Valid() {
		return TaskStatus(n), nil
	}
	return 0, fmt.Errorf("service: unknown task status %q", s)
}

// Task is one scheduled message job.
type Task struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Type    TaskType   `json:"type"`
	Status  TaskStatus `json:"status"`
	Time    int64      `json:"time"` // epoch millis, or interval millis for IntervalTime
	Member  []string   `json:"member"`
	Content string     `json:"content"`
}

// NewTask is the payload of /task/add. The server assigns ID and Status.
type NewTask struct {
	Name    string   `json:"name"`
	Type    TaskType `json:"type"`
	Time    int64    `json:"time"`
	Member  []string `json:"member"`
	Content string   `json:"content"`
}

// Validate checks the fields the server requires.
func (t NewTask) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("service: task name is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("service: unknown task type %q", t.Type)
	}
	if t.Time <= 0 {
		return fmt.Errorf("service: task time must be positive")
	}
	return nil
}

// taskEdit is the payload of /task/edit: every field except status.
type taskEdit struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Type    TaskType `json:"type"`
	Time    int64    `json:"time"`
	Member  []string `json:"member"`
	Content string   `json:"content"`
}

// taskUpdate is the payload of /task/update.
type taskUpdate struct {
	ID     int64      `json:"id"`
	Status TaskStatus `json:"status"`
}

// ListFilter narrows /task/list. Zero fields are omitted.
type ListFilter struct {
	Keyword string     `json:"keyword,omitempty"`
	Status  TaskStatus `json:"status,omitempty"`
}

// TaskList is the /task/list response.
type TaskList struct {
	List         []Task `json:"list"`
	RunningCount int    `json:"running_count"`
}

// InfoLevel grades an info push.
type InfoLevel int

const (
	InfoNormal InfoLevel = iota
	InfoSuccess
	InfoFailure
)

// Info is the payload of the info push: a line for the activity log.
type Info struct {
	SendTime int64     `json:"sendTime"`
	Msg      string    `json:"msg"`
	Status   InfoLevel `json:"status"`
}

// WxUser is the payload of /wxuser/add.
type WxUser struct {
	Name string `json:"name"`
}
