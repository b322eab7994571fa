//go:build !linux

package serial

import (
	"os"

	"github.com/juju/errors"
)

func openUart(path string, baud int) (*os.File, error) {
	return nil, errors.NotSupportedf("serial uart on this OS")
}
