// Package guard watches memory headroom and tells the gateway when to shed state.
package guard

import (
	"time"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/log2"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultLowWater = 20 << 10
)

// Prober reports bytes available before allocation is expected to fail.
type Prober interface {
	Headroom() (uint64, error)
}

type ProberFunc func() (uint64, error)

func (f ProberFunc) Headroom() (uint64, error) { return f() }

type Config struct {
	Interval time.Duration
	LowWater uint64
}

type Guard struct {
	prober  Prober
	log     *log2.Log
	config  Config
	started bool
	epoch   time.Time
	last    time.Duration
	checked bool
	// last successful probe
	headroom uint64
	sheds    uint64
}

func New(prober Prober, log *log2.Log, config Config) *Guard {
	if prober == nil {
		panic("code error guard.New prober=nil")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.LowWater == 0 {
		config.LowWater = DefaultLowWater
	}
	return &Guard{prober: prober, log: log, config: config}
}

// Check probes at most once per interval, first call probes immediately.
// Returns true when caller must shed all volatile state.
func (self *Guard) Check(now time.Time) bool {
	if !self.started {
		self.started = true
		self.epoch = now
	}
	t := now.Sub(self.epoch)
	if self.checked && t-self.last < self.config.Interval {
		return false
	}
	self.checked = true
	self.last = t

	h, err := self.prober.Headroom()
	if err != nil {
		self.log.Errorf("guard probe err=%v", errors.Annotate(err, "headroom"))
		return false
	}
	self.headroom = h
	self.log.Debugf("guard headroom=%d low_water=%d", h, self.config.LowWater)
	if h < self.config.LowWater {
		self.sheds++
		self.log.Warningf("guard memory headroom=%d below low_water=%d, shedding state", h, self.config.LowWater)
		return true
	}
	return false
}

func (self *Guard) Headroom() uint64 { return self.headroom }
func (self *Guard) Sheds() uint64    { return self.sheds }
