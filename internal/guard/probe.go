package guard

import (
	"runtime"

	"github.com/juju/errors"
)

// RuntimeProber reports Limit minus Go heap in use.
// Fits deployments where process memory is capped by cgroup or GOMEMLIMIT.
type RuntimeProber struct {
	Limit uint64
}

func (self RuntimeProber) Headroom() (uint64, error) {
	if self.Limit == 0 {
		return 0, errors.NotValidf("guard heap limit=0")
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc >= self.Limit {
		return 0, nil
	}
	return self.Limit - ms.HeapAlloc, nil
}
