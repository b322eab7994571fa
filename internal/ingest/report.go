package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/node"
)

// Radio frame payload limit, ESP-NOW v1 allows 250 bytes.
const MaxReportSize = 250

// Report is one telemetry sample from a node.
// DeviceId is owned copy, never aliases transport buffer.
type Report struct {
	Value      int64
	DeviceId   string
	From       node.Id
	ReceivedAt time.Time
}

func (r Report) String() string {
	return fmt.Sprintf("value=%d deviceId=%s from=%s", r.Value, r.DeviceId, r.From)
}

// DecodeError is malformed inbound payload. Logged and dropped, never becomes Report.
type DecodeError struct {
	Reason     string
	Payload    []byte
	underlying error
}

func (e *DecodeError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.underlying)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Underlying() error { return e.underlying }

func newDecodeError(payload []byte, underlying error, format string, args ...interface{}) error {
	return &DecodeError{
		Reason:     fmt.Sprintf(format, args...),
		Payload:    append([]byte(nil), payload...),
		underlying: underlying,
	}
}

// IsDecodeError works with errors.Annotate wrapped values too.
func IsDecodeError(err error) bool {
	_, ok := errors.Cause(err).(*DecodeError)
	return ok
}

type wireReport struct {
	Value    *json.Number `json:"value"`
	DeviceId *string      `json:"deviceId"`
}

// Decode parses `{"value":int,"deviceId":string}` node payload.
func Decode(from node.Id, b []byte, now time.Time) (Report, error) {
	if len(b) == 0 {
		return Report{}, newDecodeError(b, nil, "report empty payload")
	}
	if len(b) > MaxReportSize {
		return Report{}, newDecodeError(b, nil, "report payload len=%d exceeds %d", len(b), MaxReportSize)
	}
	var w wireReport
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Report{}, newDecodeError(b, err, "report json")
	}
	if rest := bytes.TrimSpace(b[dec.InputOffset():]); len(rest) != 0 {
		return Report{}, newDecodeError(b, nil, "report trailing data len=%d", len(rest))
	}
	if w.Value == nil {
		return Report{}, newDecodeError(b, nil, "report value missing")
	}
	value, err := w.Value.Int64()
	if err != nil {
		return Report{}, newDecodeError(b, err, "report value=%s not integer", w.Value.String())
	}
	if w.DeviceId == nil || *w.DeviceId == "" {
		return Report{}, newDecodeError(b, nil, "report deviceId missing")
	}
	return Report{
		Value:      value,
		DeviceId:   string([]byte(*w.DeviceId)),
		From:       from,
		ReceivedAt: now,
	}, nil
}
