//go:build !linux

package guard

import "github.com/juju/errors"

type SysinfoProber struct{}

func (SysinfoProber) Headroom() (uint64, error) {
	return 0, errors.NotSupportedf("sysinfo on this OS")
}
