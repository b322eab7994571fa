package helpers

import (
	"io"
)

// WriteAll repeats Write until b is consumed.
// Writer making no progress without error is reported as io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == len(b) {
			return nil
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
