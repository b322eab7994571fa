// Package poll drives round-robin triggering of registered nodes.
package poll

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
)

const (
	DefaultTriggerInterval = 5 * time.Second
	DefaultResponseTimeout = 500 * time.Millisecond
)

type Sender interface {
	SendTrigger(id node.Id) error
}

type State uint8

const (
	StateIdle State = iota
	StateAwaitingTrigger
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTrigger:
		return "awaiting-trigger"
	case StateAwaitingResponse:
		return "awaiting-response"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type Config struct {
	TriggerInterval time.Duration
	ResponseTimeout time.Duration
	// Burst: interval gates only the start of each traversal,
	// within traversal next node is triggered as soon as previous response window closes.
	Burst bool
}

type Stat struct {
	Triggers    uint64
	SendErrors  uint64
	Timeouts    uint64
	Responses   uint64
	Cycles      uint64
	PeerErrors  uint64
	LastTrigger node.Id
}

// Scheduler is not safe for concurrent use, it is driven by single tick loop.
// All time math is duration offsets from first Tick.
type Scheduler struct {
	OnTrigger func(id node.Id, err error)
	OnTimeout func(id node.Id)

	registry *node.Registry
	sender   Sender
	limiter  transport.PeerLimiter
	log      *log2.Log
	config   Config

	started        bool
	epoch          time.Time
	index          int
	awaiting       bool
	triggered      bool // at least one trigger since start or Reset
	awaitedId      node.Id
	prevId         node.Id
	hasPrev        bool
	peers          map[node.Id]struct{} // ensured through limiter
	lastTrigger    time.Duration
	triggerSentAt  time.Duration
	cycleStartedAt time.Duration
	stat           Stat
}

func New(registry *node.Registry, sender Sender, log *log2.Log, config Config) *Scheduler {
	if config.TriggerInterval <= 0 {
		config.TriggerInterval = DefaultTriggerInterval
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}
	self := &Scheduler{
		registry: registry,
		sender:   sender,
		log:      log,
		config:   config,
	}
	if pl, ok := sender.(transport.PeerLimiter); ok && pl.PeerLimit() > 0 {
		self.limiter = pl
		self.peers = make(map[node.Id]struct{})
	}
	return self
}

func (self *Scheduler) Config() Config { return self.config }
func (self *Scheduler) Stat() Stat     { return self.stat }
func (self *Scheduler) Index() int     { return self.index }

func (self *Scheduler) State() State {
	switch {
	case self.awaiting:
		return StateAwaitingResponse
	case self.index == 0:
		return StateIdle
	}
	return StateAwaitingTrigger
}

// Awaited returns node whose response window is open.
func (self *Scheduler) Awaited() (node.Id, bool) {
	return self.awaitedId, self.awaiting
}

// CycleElapsed is time since current traversal started.
func (self *Scheduler) CycleElapsed(now time.Time) time.Duration {
	if !self.started {
		return 0
	}
	return self.offset(now) - self.cycleStartedAt
}

// Tick runs trigger, advance and timeout transitions. Never blocks beyond sender call.
func (self *Scheduler) Tick(now time.Time) {
	if !self.started {
		self.started = true
		self.epoch = now
	}
	t := self.offset(now)

	if !self.awaiting && self.due(t) {
		self.trigger(t)
	}

	if self.awaiting && t-self.triggerSentAt >= self.config.ResponseTimeout {
		self.awaiting = false
		self.stat.Timeouts++
		self.log.Infof("poll timeout node=%s after=%v", self.awaitedId, t-self.triggerSentAt)
		if self.OnTimeout != nil {
			self.OnTimeout(self.awaitedId)
		}
	}
}

// NoteActivity closes response window early when awaited node reported.
func (self *Scheduler) NoteActivity(from node.Id) bool {
	if !self.awaiting || from != self.awaitedId {
		return false
	}
	self.awaiting = false
	self.stat.Responses++
	return true
}

// Reset forgets traversal position, used after registry was cleared.
// Next trigger goes to index 0 on the next Tick. Ensured peers are released.
func (self *Scheduler) Reset() {
	for id := range self.peers {
		self.releasePeer(id)
	}
	self.index = 0
	self.awaiting = false
	self.triggered = false
	self.hasPrev = false
}

func (self *Scheduler) due(t time.Duration) bool {
	switch {
	case !self.triggered:
		return true
	case self.config.Burst && self.index != 0:
		return true
	}
	return t-self.lastTrigger >= self.config.TriggerInterval
}

func (self *Scheduler) trigger(t time.Duration) {
	ids := self.registry.Ids()
	if len(ids) == 0 {
		self.index = 0
		return
	}
	if self.index >= len(ids) {
		// registry shrank under us, start new traversal
		self.index = 0
		self.cycleStartedAt = t
	}
	id := ids[self.index]
	self.rotatePeer(id, len(ids))

	err := self.sender.SendTrigger(id)
	self.stat.Triggers++
	self.stat.LastTrigger = id
	if err != nil {
		self.stat.SendErrors++
		self.log.Errorf("poll trigger node=%s err=%v", id, errors.Annotate(err, "send"))
	} else {
		self.log.Debugf("poll trigger node=%s index=%d/%d", id, self.index, len(ids))
	}
	if self.OnTrigger != nil {
		self.OnTrigger(id, err)
	}
	// failed send still opens response window so bad link costs exactly one timeout
	self.awaiting = true
	self.awaitedId = id
	self.triggerSentAt = t
	self.triggered = true
	if !self.config.Burst {
		self.lastTrigger = t
	}

	self.index = (self.index + 1) % len(ids)
	if self.index == 0 {
		self.stat.Cycles++
		self.cycleStartedAt = t
		self.lastTrigger = t
	}
}

func (self *Scheduler) rotatePeer(id node.Id, size int) {
	if self.limiter == nil {
		return
	}
	// nodes evicted or removed from registry since last trigger
	for p := range self.peers {
		if !self.registry.Contains(p) {
			self.releasePeer(p)
		}
	}
	if self.hasPrev && self.prevId != id && size > self.limiter.PeerLimit() {
		self.releasePeer(self.prevId)
	}
	if err := self.limiter.EnsurePeer(id); err != nil {
		self.stat.PeerErrors++
		self.log.Errorf("poll peer node=%s err=%v", id, err)
	} else {
		self.peers[id] = struct{}{}
	}
	self.prevId = id
	self.hasPrev = true
}

func (self *Scheduler) releasePeer(id node.Id) {
	if _, ok := self.peers[id]; !ok {
		return
	}
	delete(self.peers, id)
	self.limiter.ReleasePeer(id)
	self.log.Debugf("poll peer release node=%s", id)
}

// Peers returns number of peers ensured and not yet released.
func (self *Scheduler) Peers() int { return len(self.peers) }

func (self *Scheduler) offset(now time.Time) time.Duration {
	// Sub uses monotonic clock reading when both times carry it
	return now.Sub(self.epoch)
}
