package helpers

import (
	"expvar"
	"io"
)

// StatReader counts bytes read into expvar, plus fixed F per Read call (framing overhead).
type StatReader struct {
	R io.Reader
	V *expvar.Int
	F int64
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, v *expvar.Int, fix int64) io.Reader {
	return &StatReader{R: r, F: fix, V: v}
}

func (sr *StatReader) Read(p []byte) (n int, err error) {
	n, err = sr.R.Read(p)
	if n > 0 {
		sr.V.Add(int64(n) + sr.F)
	}
	return
}
