package client

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

// link is one attached transport together with the generation it was
// attached in. Callbacks carrying an older generation are stale.
type link struct {
	conn  Conn
	gen   uint64
	codec protocol.Codec

	wmu       sync.Mutex // serializes writes
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(conn Conn, gen uint64, codec protocol.Codec) *link {
	return &link{
		conn:  conn,
		gen:   gen,
		codec: codec,
		done:  make(chan struct{}),
	}
}

func (l *link) send(m protocol.Message) error {
	frame, err := l.codec.Encode(m)
	if err != nil {
		return err
	}
	mt := websocket.TextMessage
	if l.codec.Binary() {
		mt = websocket.BinaryMessage
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	select {
	case <-l.done:
		return fmt.Errorf("taskwire: write on closed connection")
	default:
	}
	return l.conn.WriteMessage(mt, frame)
}

// close sends a normal-closure frame when graceful is set, then closes the
// transport. Safe to call more than once.
func (l *link) close(graceful bool) {
	l.closeOnce.Do(func() {
		if graceful {
			l.wmu.Lock()
			_ = l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			l.wmu.Unlock()
		}
		close(l.done)
		_ = l.conn.Close()
	})
}
