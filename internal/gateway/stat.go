package gateway

import (
	"expvar"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

// Stat counters are updated from tick loop and transport callbacks.
type Stat struct {
	TriggersSent     atomic.Uint64
	TriggersFailed   atomic.Uint64
	Timeouts         atomic.Uint64
	Reports          atomic.Uint64
	DecodeErrors     atomic.Uint64
	InboxEvicted     atomic.Uint64
	QueueEvicted     atomic.Uint64
	BatchesDelivered atomic.Uint64
	BatchesRejected  atomic.Uint64
	BatchesFailed    atomic.Uint64
	BatchesDropped   atomic.Uint64
	ReportsRelayed   atomic.Uint64
	Sheds            atomic.Uint64
	Errors           atomic.Uint64

	LastReport    atomic_clock.Clock
	LastDelivered atomic_clock.Clock
}

type StatSnapshot struct {
	TriggersSent     uint64 `json:"triggers_sent"`
	TriggersFailed   uint64 `json:"triggers_failed"`
	Timeouts         uint64 `json:"timeouts"`
	Reports          uint64 `json:"reports"`
	DecodeErrors     uint64 `json:"decode_errors"`
	InboxEvicted     uint64 `json:"inbox_evicted"`
	QueueEvicted     uint64 `json:"queue_evicted"`
	BatchesDelivered uint64 `json:"batches_delivered"`
	BatchesRejected  uint64 `json:"batches_rejected"`
	BatchesFailed    uint64 `json:"batches_failed"`
	BatchesDropped   uint64 `json:"batches_dropped"`
	ReportsRelayed   uint64 `json:"reports_relayed"`
	Sheds            uint64 `json:"sheds"`
	Errors           uint64 `json:"errors"`
	LastReport       int64  `json:"last_report_unix"`
	LastDelivered    int64  `json:"last_delivered_unix"`
}

func (self *Stat) Snapshot() StatSnapshot {
	return StatSnapshot{
		TriggersSent:     self.TriggersSent.Load(),
		TriggersFailed:   self.TriggersFailed.Load(),
		Timeouts:         self.Timeouts.Load(),
		Reports:          self.Reports.Load(),
		DecodeErrors:     self.DecodeErrors.Load(),
		InboxEvicted:     self.InboxEvicted.Load(),
		QueueEvicted:     self.QueueEvicted.Load(),
		BatchesDelivered: self.BatchesDelivered.Load(),
		BatchesRejected:  self.BatchesRejected.Load(),
		BatchesFailed:    self.BatchesFailed.Load(),
		BatchesDropped:   self.BatchesDropped.Load(),
		ReportsRelayed:   self.ReportsRelayed.Load(),
		Sheds:            self.Sheds.Load(),
		Errors:           self.Errors.Load(),
		LastReport:       self.LastReport.Unix(),
		LastDelivered:    self.LastDelivered.Unix(),
	}
}

func (s StatSnapshot) String() string {
	since := "never"
	if s.LastDelivered != 0 {
		since = time.Since(time.Unix(s.LastDelivered, 0)).Truncate(time.Second).String()
	}
	return fmt.Sprintf("triggers=%d/%d timeouts=%d reports=%d decode_errors=%d evicted=%d/%d batches=%d/%d/%d/%d relayed=%d sheds=%d last_delivered=%s",
		s.TriggersSent, s.TriggersFailed, s.Timeouts, s.Reports, s.DecodeErrors, s.InboxEvicted, s.QueueEvicted,
		s.BatchesDelivered, s.BatchesRejected, s.BatchesFailed, s.BatchesDropped, s.ReportsRelayed, s.Sheds, since)
}

// Publish exports snapshot under expvar name. Panics on duplicate name, call once per process.
func (self *Stat) Publish(name string) {
	expvar.Publish(name, expvar.Func(func() interface{} { return self.Snapshot() }))
}
