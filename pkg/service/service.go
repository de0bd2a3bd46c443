// Package service wraps the taskwire client in typed calls for the task
// and WeChat user routes.
package service

import (
	"context"
	"log/slog"

	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

// Routes.
const (
	RouteTaskAdd    = "/task/add"
	RouteTaskEdit   = "/task/edit"
	RouteTaskList   = "/task/list"
	RouteTaskUpdate = "/task/update"
	RouteWxUserAdd  = "/wxuser/add"
	RouteWxUserList = "/wxuser/list"
)

// Push events.
const (
	EventTaskStateUpdate = "task-item/state/update"
	EventTaskAdded       = "task-item/add"
	EventTaskListUpdate  = "task-list/update"
	EventBlockNum        = "block_num"
	EventInfo            = "info"
	EventWxUserAdded     = "wechat-name/add"
)

// Requester sends a request and waits for its response.
type Requester interface {
	Request(ctx context.Context, route string, payload any) (*protocol.Response, error)
}

// Subscriber registers push listeners.
type Subscriber interface {
	Subscribe(event string, fn func(*protocol.Push)) (*client.Subscription, error)
}

// Conn is what the services need from a connection. *client.Client
// satisfies it.
type Conn interface {
	Requester
	Subscriber
}

var _ Conn = (*client.Client)(nil)

func call[T any](ctx context.Context, r Requester, route string, payload any) (T, error) {
	var out T
	resp, err := r.Request(ctx, route, payload)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func subscribe[T any](s Subscriber, log *slog.Logger, event string, fn func(T)) (*client.Subscription, error) {
	return s.Subscribe(event, func(p *protocol.Push) {
		var v T
		if err := p.Decode(&v); err != nil {
			log.Warn("unexpected push payload", "event", event, "error", err)
			return
		}
		fn(v)
	})
}
