package guard

import (
	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// SysinfoProber reports free system RAM.
type SysinfoProber struct{}

func (SysinfoProber) Headroom() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, errors.Annotate(err, "sysinfo")
	}
	return uint64(si.Freeram) * uint64(si.Unit), nil
}
