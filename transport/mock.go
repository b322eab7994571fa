package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
)

const defaultMockTimeout = 5 * time.Second

// Mock is transport test double. Triggers go to Triggers channel,
// Report and Peer simulate radio side. Set FailSend to simulate link errors.
type Mock struct {
	T              testing.TB
	Buffer         int
	NetworkTimeout time.Duration
	Limit          int
	FailSend       error

	Triggers chan node.Id

	mu       sync.Mutex
	onReport ReportFunc
	onPeer   PeerFunc
	peers    map[node.Id]struct{}
	released []node.Id
	closed   bool
}

var _ Transporter = &Mock{}
var _ PeerLimiter = &Mock{}

func NewMock(t testing.TB, buffer int) *Mock {
	return &Mock{T: t, Buffer: buffer}
}

func (self *Mock) Init(ctx context.Context, log *log2.Log, onReport ReportFunc, onPeer PeerFunc) error {
	if onReport == nil {
		return errors.NotValidf("transport mock onReport=nil")
	}
	if self.NetworkTimeout == 0 {
		self.NetworkTimeout = defaultMockTimeout
	}
	self.mu.Lock()
	self.onReport = onReport
	self.onPeer = onPeer
	self.peers = make(map[node.Id]struct{})
	self.Triggers = make(chan node.Id, self.Buffer)
	self.mu.Unlock()
	return nil
}

func (self *Mock) SendTrigger(id node.Id) error {
	if self.FailSend != nil {
		self.T.Logf("mock trigger node=%s fail=%v", id, self.FailSend)
		return SendError(self.FailSend, id)
	}
	select {
	case self.Triggers <- id:
		self.T.Logf("mock trigger node=%s", id)
	case <-time.After(self.NetworkTimeout):
		self.T.Logf("mock network timeout")
		return SendError(errors.Timeoutf("mock trigger"), id)
	}
	return nil
}

func (self *Mock) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

func (self *Mock) Closed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}

// Report simulates frame arriving from node.
func (self *Mock) Report(from node.Id, payload []byte) {
	self.mu.Lock()
	f := self.onReport
	self.mu.Unlock()
	self.T.Logf("mock report node=%s payload=%s", from, payload)
	f(from, payload)
}

// Peer simulates discovery.
func (self *Mock) Peer(id node.Id) {
	self.mu.Lock()
	f := self.onPeer
	self.mu.Unlock()
	if f != nil {
		f(id)
	}
}

// PeerLimit 0 means unlimited, scheduler never releases.
func (self *Mock) PeerLimit() int { return self.Limit }

func (self *Mock) ReleasePeer(id node.Id) {
	self.mu.Lock()
	delete(self.peers, id)
	self.released = append(self.released, id)
	self.mu.Unlock()
}

func (self *Mock) EnsurePeer(id node.Id) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Limit > 0 && len(self.peers) >= self.Limit {
		if _, ok := self.peers[id]; !ok {
			return errors.Errorf("mock peer table full limit=%d", self.Limit)
		}
	}
	self.peers[id] = struct{}{}
	return nil
}

func (self *Mock) Peers() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.peers)
}

func (self *Mock) Released() []node.Id {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]node.Id, len(self.released))
	copy(out, self.released)
	return out
}
