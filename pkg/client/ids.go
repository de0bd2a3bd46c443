package client

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces correlation ids for requests.
type IDGenerator interface {
	Next() string
}

// UUIDGenerator issues random v4 UUIDs. It is the default.
type UUIDGenerator struct{}

func (UUIDGenerator) Next() string { return uuid.NewString() }

// CounterGenerator issues Prefix followed by a monotonically increasing
// number. Useful in tests and with peers that log sequences.
type CounterGenerator struct {
	Prefix string
	n      atomic.Uint64
}

func (g *CounterGenerator) Next() string {
	return g.Prefix + strconv.FormatUint(g.n.Add(1), 10)
}
