package transport

import (
	"context"

	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
)

// Noop never delivers reports, used for relay-only setups and dry runs.
type Noop struct{}

var _ Transporter = Noop{} // compile-time interface test

func (Noop) Init(context.Context, *log2.Log, ReportFunc, PeerFunc) error { return nil }
func (Noop) SendTrigger(node.Id) error                                   { return nil }
func (Noop) Close() error                                                { return nil }
