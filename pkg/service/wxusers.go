package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-dev/taskwire/pkg/client"
)

// WxUsers calls the /wxuser routes.
type WxUsers struct {
	conn Conn
	log  *slog.Logger
}

// NewWxUsers returns a WeChat user service over conn. A nil logger means
// slog.Default().
func NewWxUsers(conn Conn, log *slog.Logger) *WxUsers {
	if log == nil {
		log = slog.Default()
	}
	return &WxUsers{conn: conn, log: log.With("component", "taskwire.wxusers")}
}

// Add registers a WeChat user name.
func (w *WxUsers) Add(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("service: wx user name is required")
	}
	_, err := w.conn.Request(ctx, RouteWxUserAdd, WxUser{Name: name})
	return err
}

// List returns every registered user name.
func (w *WxUsers) List(ctx context.Context) ([]string, error) {
	return call[[]string](ctx, w.conn, RouteWxUserList, nil)
}

// OnAdded subscribes to newly registered names.
func (w *WxUsers) OnAdded(fn func([]string)) (*client.Subscription, error) {
	return subscribe(w.conn, w.log, EventWxUserAdded, fn)
}
