// Package gateway owns node registry, ingest queue, poll scheduler, relay and guard
// and drives them from single tick loop.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/vaquinet/basestation/hardware/led"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/batch"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/guard"
	"github.com/vaquinet/basestation/internal/ingest"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/internal/poll"
	"github.com/vaquinet/basestation/internal/relay"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
)

const (
	defaultInbox       = 32
	defaultMaxAttempts = 5
)

type Gateway struct { //nolint:maligned
	Log          *log2.Log
	BuildVersion string
	// optional, nil is fine
	Led *led.Led

	config    *config.Config
	transport transport.Transporter
	poster    relay.Poster
	static    []node.Id

	registry  *node.Registry
	queue     *ingest.Queue
	scheduler *poll.Scheduler
	relay     *relay.Client
	guard     *guard.Guard
	stat      Stat

	// receive callback -> tick loop hand-off, bounded, oldest dropped when full
	inbox chan ingest.Report

	// tick loop state, not guarded
	pending    *batch.Batch
	retryAt    time.Time
	backoff    helpers.Backoff
	lastRelay  time.Time
	lastStat   time.Time
	statLogged bool

	initOnce sync.Once
	initErr  error
}

func New(cfg *config.Config, tr transport.Transporter, poster relay.Poster, prober guard.Prober, log *log2.Log) (*Gateway, error) {
	if cfg == nil || tr == nil || poster == nil || prober == nil {
		panic("code error gateway.New nil argument")
	}
	static, err := cfg.NodeIds()
	if err != nil {
		return nil, errors.Trace(err)
	}
	registryCap := cfg.Registry.Capacity
	if registryCap == 0 {
		registryCap = node.DefaultCapacity
	}
	queueCap := cfg.Queue.Capacity
	if queueCap == 0 {
		queueCap = ingest.DefaultCapacity
	}
	inbox := cfg.Queue.Inbox
	if inbox == 0 {
		inbox = defaultInbox
	}
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	self := &Gateway{
		Log:       log,
		config:    cfg,
		transport: tr,
		poster:    poster,
		static:    static,
		registry:  node.NewRegistry(registryCap),
		queue:     ingest.NewQueue(queueCap),
		inbox:     make(chan ingest.Report, inbox),
		backoff: helpers.Backoff{
			Min: cfg.Relay.RetryMin(),
			Max: cfg.Relay.RetryMax(),
			K:   2,
		},
	}
	log.SetErrorFunc(func(error) { self.stat.Errors.Add(1) })
	self.guard = guard.New(prober, log, guard.Config{
		Interval: cfg.Guard.Interval(),
		LowWater: cfg.Guard.LowWater(),
	})
	self.scheduler = poll.New(self.registry, tr, log, poll.Config{
		TriggerInterval: cfg.Poll.TriggerInterval(),
		ResponseTimeout: cfg.Poll.ResponseTimeout(),
		Burst:           cfg.Poll.Burst,
	})
	self.scheduler.OnTrigger = self.onTrigger
	self.scheduler.OnTimeout = func(node.Id) { self.stat.Timeouts.Add(1) }
	return self, nil
}

// Init connects transport callbacks and seeds static nodes. Safe to call more than once.
func (self *Gateway) Init(ctx context.Context) error {
	self.initOnce.Do(func() {
		version := self.BuildVersion
		if version == "" {
			version = "unknown"
		}
		self.relay = relay.New(self.poster, relay.Config{
			URL:         self.config.Relay.URL,
			ContentType: batch.ContentType,
			UserAgent:   "basestation/" + version,
		})
		self.seed()
		if err := self.transport.Init(ctx, self.Log, self.onReport, self.onPeer); err != nil {
			self.initErr = errors.Annotate(err, "gateway transport")
			return
		}
		self.Log.Infof("gateway init %s static=%d", self.config.String(), len(self.static))
	})
	return self.initErr
}

func (self *Gateway) Registry() *node.Registry         { return self.registry }
func (self *Gateway) Queue() *ingest.Queue             { return self.queue }
func (self *Gateway) Scheduler() *poll.Scheduler       { return self.scheduler }
func (self *Gateway) Stat() *Stat                      { return &self.stat }
func (self *Gateway) Pending() *batch.Batch            { return self.pending }
func (self *Gateway) Transport() transport.Transporter { return self.transport }

// Tick runs one cooperative step. Nothing here returns error, failures are logged and counted.
func (self *Gateway) Tick(ctx context.Context, now time.Time) {
	self.pump()
	self.scheduler.Tick(now)
	self.relayCycle(ctx, now)
	if self.guard.Check(now) {
		self.shed()
	}
	if err := self.Led.Tick(now); err != nil {
		self.Log.Errorf("led err=%v", err)
	}
	self.logStat(now)
}

// Run calls Tick every tick interval until alive is stopped, then closes transport.
func (self *Gateway) Run(ctx context.Context, a *alive.Alive) error {
	if err := self.Init(ctx); err != nil {
		return err
	}
	tmr := time.NewTicker(self.config.TickInterval())
	defer tmr.Stop()
	stopch := a.StopChan()
	for a.IsRunning() {
		self.Tick(ctx, time.Now())
		select {
		case <-stopch:
		case <-ctx.Done():
			a.Stop()
		case <-tmr.C:
		}
	}
	return self.Close()
}

func (self *Gateway) Close() error {
	errs := []error{self.transport.Close(), self.Led.Close()}
	if n := self.queue.Len() + len(self.inbox); n != 0 || self.pending != nil {
		// no persistence, undelivered data is lost on exit
		self.Log.Infof("gateway close dropping queued=%d pending=%s", n, self.pending)
	}
	return helpers.FoldErrors(errs)
}

// Trigger sends manual trigger outside of poll order, for operator console.
func (self *Gateway) Trigger(id node.Id) error {
	err := self.transport.SendTrigger(id)
	self.onTrigger(id, err)
	return err
}

// Inject feeds payload as if received from radio, for operator console.
func (self *Gateway) Inject(from node.Id, payload []byte) { self.onReport(from, payload) }

// transport goroutine
func (self *Gateway) onReport(from node.Id, payload []byte) {
	r, err := ingest.Decode(from, payload, time.Now())
	if err != nil {
		self.stat.DecodeErrors.Add(1)
		self.Log.Debugf("gateway drop from=%s err=%v", from, err)
		return
	}
	self.stat.Reports.Add(1)
	self.stat.LastReport.SetNow()
	self.offer(r)
}

// offer never blocks transport: when inbox is full the oldest report gives way.
func (self *Gateway) offer(r ingest.Report) {
	for {
		select {
		case self.inbox <- r:
			return
		default:
		}
		select {
		case <-self.inbox:
			self.stat.InboxEvicted.Add(1)
		default:
		}
	}
}

// transport goroutine. Peer slot of evicted node is released by scheduler before next trigger.
func (self *Gateway) onPeer(id node.Id) {
	if evicted, ok := self.registry.Add(id); ok {
		self.Log.Infof("gateway registry full, evicted node=%s for node=%s", evicted, id)
	}
}

func (self *Gateway) onTrigger(id node.Id, err error) {
	if err != nil {
		self.stat.TriggersFailed.Add(1)
		return
	}
	self.stat.TriggersSent.Add(1)
	if err := self.Led.Pulse(time.Now()); err != nil {
		self.Log.Errorf("led err=%v", err)
	}
}

// pump moves received reports into queue, bounded by inbox length at entry.
func (self *Gateway) pump() {
	for n := len(self.inbox); n > 0; n-- {
		r := <-self.inbox
		if self.queue.Enqueue(r) {
			self.stat.QueueEvicted.Add(1)
		}
		self.scheduler.NoteActivity(r.From)
	}
}

func (self *Gateway) relayCycle(ctx context.Context, now time.Time) {
	if iv := self.config.Relay.Interval(); iv > 0 && !self.lastRelay.IsZero() && now.Sub(self.lastRelay) < iv {
		return
	}
	b := self.pending
	if b != nil {
		if now.Before(self.retryAt) {
			return
		}
	} else {
		b = batch.Build(self.queue.DrainAll())
	}
	self.lastRelay = now

	result := self.relay.Relay(ctx, b)
	switch result.Outcome {
	case relay.Delivered:
		self.pending = nil
		if !result.IO {
			return
		}
		self.backoff.Reset()
		self.stat.BatchesDelivered.Add(1)
		self.stat.ReportsRelayed.Add(uint64(b.Count))
		self.stat.LastDelivered.SetNow()
		self.Log.Debugf("gateway relay %s %s", b, result)
		return
	case relay.Rejected:
		self.stat.BatchesRejected.Add(1)
	case relay.TransportFailed:
		self.stat.BatchesFailed.Add(1)
	}
	self.Log.Errorf("gateway relay %s %s", b, result)

	if self.config.Relay.RetainOnFailure && b.Attempts < self.maxAttempts() {
		self.pending = b
		self.backoff.Failure()
		self.retryAt = now.Add(self.backoff.Delay())
		self.Log.Infof("gateway relay retry %s after=%v", b, self.backoff.Delay())
		return
	}
	self.pending = nil
	self.stat.BatchesDropped.Add(1)
	self.Log.Infof("gateway relay dropped %s", b)
}

func (self *Gateway) maxAttempts() int {
	if self.config.Relay.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return self.config.Relay.MaxAttempts
}

// shed clears all volatile state under memory pressure.
func (self *Gateway) shed() {
	self.stat.Sheds.Add(1)
	nodes := self.registry.Size()
	self.registry.Clear()
	dropped := self.queue.Clear()
	if self.pending != nil {
		dropped += self.pending.Count
		self.pending = nil
	}
	self.backoff.Reset()
	self.scheduler.Reset()
	for len(self.inbox) > 0 {
		<-self.inbox
		dropped++
	}
	self.Log.Warningf("gateway shed nodes=%d reports=%d", nodes, dropped)
	if self.config.Guard.ReseedEnabled() {
		self.seed()
	}
}

func (self *Gateway) seed() {
	for _, id := range self.static {
		self.registry.Add(id)
	}
}

func (self *Gateway) logStat(now time.Time) {
	if self.statLogged && now.Sub(self.lastStat) < self.config.StatInterval() {
		return
	}
	if !self.statLogged {
		self.statLogged = true
		self.lastStat = now
		return
	}
	self.lastStat = now
	self.Log.Infof("gateway stat nodes=%d queue=%d/%d headroom=%d %s",
		self.registry.Size(), self.queue.Len(), self.queue.Cap(), self.guard.Headroom(), self.stat.Snapshot())
}
