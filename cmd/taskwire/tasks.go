package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/taskwire/internal/errors"
	"github.com/vango-dev/taskwire/pkg/ratelimit"
	"github.com/vango-dev/taskwire/pkg/service"
)

func (a *app) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage scheduled tasks",
	}
	cmd.AddCommand(
		a.tasksListCmd(),
		a.tasksAddCmd(),
		a.tasksEditCmd(),
		a.tasksUpdateCmd("start", "Put a task in progress", (*service.Tasks).Start),
		a.tasksUpdateCmd("stop", "Cancel a task", (*service.Tasks).Stop),
		a.tasksUpdateCmd("delete", "Delete a task", (*service.Tasks).Delete),
	)
	return cmd
}

// tasks returns the task service over the pooled client.
func (a *app) tasks(ctx context.Context) (*service.Tasks, error) {
	c, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewTasks(c,
		service.WithTasksLogger(a.log),
		service.WithRefreshThrottle(ratelimit.New(a.cfg.RateLimit.MinInterval.D(), nil)),
	), nil
}

func (a *app) tasksListCmd() *cobra.Command {
	var (
		keyword string
		status  string
		follow  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long: `List tasks, optionally filtered by keyword and status.

With --follow the list is printed again whenever the server pushes a task
change, at most once per rateLimit.minInterval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := service.ListFilter{Keyword: keyword}
			if status != "" {
				st, err := parseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			tasks, err := a.tasks(ctx)
			if err != nil {
				return err
			}
			defer tasks.Close()

			list, err := tasks.List(ctx, filter)
			if err != nil {
				return err
			}
			a.printTasks(list)
			if !follow {
				return nil
			}

			refresh := func([]service.Task) {
				tasks.Refresh(filter, func(list *service.TaskList, err error) {
					if err != nil {
						a.log.Warn("refresh failed", "error", err)
						return
					}
					a.printTasks(list)
				})
			}
			for _, on := range []func(func([]service.Task)) error{
				func(fn func([]service.Task)) error { _, err := tasks.OnAdded(fn); return err },
				func(fn func([]service.Task)) error { _, err := tasks.OnStateUpdate(fn); return err },
				func(fn func([]service.Task)) error { _, err := tasks.OnListUpdate(fn); return err },
			} {
				if err := on(refresh); err != nil {
					return err
				}
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "Match name or content")
	cmd.Flags().StringVar(&status, "status", "", "nostarted, progress, complete, cancel or delete")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Reprint the list on every task push")
	return cmd
}

// taskFields holds the flags shared by add and edit.
type taskFields struct {
	name    string
	typ     string
	at      string
	members []string
	content string
}

func (f *taskFields) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Task name")
	cmd.Flags().StringVar(&f.typ, "type", "", "fixTime or intervalTime")
	cmd.Flags().StringVar(&f.at, "time", "", "Epoch millis, RFC 3339 time, or interval like 30m for intervalTime")
	cmd.Flags().StringSliceVar(&f.members, "member", nil, "WeChat user to message (repeatable)")
	cmd.Flags().StringVar(&f.content, "content", "", "Message content")
}

func (a *app) tasksAddCmd() *cobra.Command {
	var f taskFields

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := service.TaskType(f.typ)
			if typ == "" {
				typ = service.FixTime
			}
			at, err := parseTaskTime(typ, f.at)
			if err != nil {
				return err
			}
			task := service.NewTask{
				Name:    f.name,
				Type:    typ,
				Time:    at,
				Member:  f.members,
				Content: f.content,
			}
			if err := task.Validate(); err != nil {
				return errors.New("TW400").WithDetail(err.Error())
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			tasks, err := a.tasks(ctx)
			if err != nil {
				return err
			}
			defer tasks.Close()
			if err := tasks.Add(ctx, task); err != nil {
				return err
			}
			a.success("Added task %q", task.Name)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func (a *app) tasksEditCmd() *cobra.Command {
	var f taskFields

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's fields; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			tasks, err := a.tasks(ctx)
			if err != nil {
				return err
			}
			defer tasks.Close()

			list, err := tasks.List(ctx, service.ListFilter{})
			if err != nil {
				return err
			}
			task, ok := findTask(list.List, id)
			if !ok {
				return errors.New("TW400").WithDetailf("no task with id %d", id)
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				task.Name = f.name
			}
			if flags.Changed("type") {
				task.Type = service.TaskType(f.typ)
			}
			if flags.Changed("time") {
				if task.Time, err = parseTaskTime(task.Type, f.at); err != nil {
					return err
				}
			}
			if flags.Changed("member") {
				task.Member = f.members
			}
			if flags.Changed("content") {
				task.Content = f.content
			}
			if !task.Type.Valid() {
				return errors.New("TW400").WithDetailf("unknown task type %q", task.Type)
			}

			if err := tasks.Edit(ctx, task); err != nil {
				return err
			}
			a.success("Updated task %d", id)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func (a *app) tasksUpdateCmd(use, short string, fn func(*service.Tasks, context.Context, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			tasks, err := a.tasks(ctx)
			if err != nil {
				return err
			}
			defer tasks.Close()
			if err := fn(tasks, ctx, id); err != nil {
				return err
			}
			a.success("Task %d: %s", id, use)
			return nil
		},
	}
}

func (a *app) printTasks(list *service.TaskList) {
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tTIME\tMEMBERS")
	for _, t := range list.List {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, t.Type, t.Status, formatTaskTime(t), strings.Join(t.Member, ","))
	}
	w.Flush()
	a.info("%d task(s), %d running", len(list.List), list.RunningCount)
}

func findTask(tasks []service.Task, id int64) (service.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return service.Task{}, false
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("TW400").WithDetailf("task id %q must be a positive integer", s)
	}
	return id, nil
}

func parseStatus(s string) (service.TaskStatus, error) {
	st, err := service.ParseTaskStatus(s)
	if err != nil {
		return 0, errors.New("TW402").WithDetailf("%q is not a task status", s)
	}
	return st, nil
}

// parseTaskTime accepts epoch millis for either type, an RFC 3339 time for
// fixTime and a Go duration for intervalTime.
func parseTaskTime(typ service.TaskType, s string) (int64, error) {
	if s == "" {
		return 0, errors.New("TW400").WithDetail("--time is required")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if typ == service.IntervalTime {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, errors.New("TW400").WithDetailf("interval %q must be millis or a duration like 30m", s)
		}
		return d.Milliseconds(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, errors.New("TW400").WithDetailf("time %q must be millis or RFC 3339", s)
	}
	return t.UnixMilli(), nil
}

func formatTaskTime(t service.Task) string {
	if t.Type == service.IntervalTime {
		return "every " + (time.Duration(t.Time) * time.Millisecond).String()
	}
	return time.UnixMilli(t.Time).Local().Format("2006-01-02 15:04")
}
