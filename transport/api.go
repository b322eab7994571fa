// Package transport is the radio link capability used by the gateway.
package transport

import (
	"context"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
)

// Transport contract:
// - Init fails only with invalid config, radio/network may come up later
// - SendTrigger is fire-and-forget, error means local send failure only
// - callbacks are invoked from transport goroutines and must not block
// - peer discovery may repeat the same id, receiver is idempotent
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, onReport ReportFunc, onPeer PeerFunc) error
	SendTrigger(id node.Id) error
	Close() error
}

// ReportFunc receives raw frame from node. Payload is owned by callee.
type ReportFunc func(from node.Id, payload []byte)

type PeerFunc func(id node.Id)

// PeerLimiter is implemented by links with bounded peer table.
// Scheduler releases previous peer before ensuring the next one.
type PeerLimiter interface {
	PeerLimit() int
	ReleasePeer(id node.Id)
	EnsurePeer(id node.Id) error
}

// Trigger is poll command payload.
const Trigger byte = 0x01

// TriggerFrame is broadcast form of trigger: command followed by addressee.
func TriggerFrame(id node.Id) []byte {
	b := make([]byte, 1+node.IdLen)
	b[0] = Trigger
	copy(b[1:], id[:])
	return b
}

var ErrSend = errors.New("transport send failed")

// SendError annotates link failure with addressee, recognized by IsSendError.
func SendError(cause error, id node.Id) error {
	return &sendError{cause: cause, id: id}
}

type sendError struct {
	cause error
	id    node.Id
}

func (self *sendError) Error() string {
	return ErrSend.Error() + " node=" + self.id.String() + ": " + self.cause.Error()
}
func (self *sendError) Underlying() error { return self.cause }

func IsSendError(err error) bool {
	if err == ErrSend {
		return true
	}
	_, ok := err.(*sendError)
	if ok {
		return true
	}
	if e, ok := err.(*errors.Err); ok {
		return IsSendError(e.Underlying())
	}
	return false
}
