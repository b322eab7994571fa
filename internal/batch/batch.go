// Package batch turns drained reports into one collector payload.
package batch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/vaquinet/basestation/internal/ingest"
)

const ContentType = "application/json"

var emptyPayload = []byte("[]")

// Batch is one serialized group of reports, sent in a single relay attempt.
// Retried batch keeps Id, so collector may deduplicate by Idempotency-Key.
type Batch struct {
	Id       string
	Payload  []byte
	Count    int
	Attempts int
}

type record struct {
	Value    int64  `json:"value"`
	DeviceId string `json:"deviceId"`
}

// Empty is sentinel for "nothing to send", payload `[]`.
func Empty() *Batch {
	return &Batch{Payload: emptyPayload}
}

func (b *Batch) IsEmpty() bool {
	return b == nil || b.Count == 0
}

func (b *Batch) String() string {
	if b.IsEmpty() {
		return "batch(empty)"
	}
	return fmt.Sprintf("batch(id=%s count=%d attempts=%d size=%d)", b.Id, b.Count, b.Attempts, len(b.Payload))
}

// Build serializes reports in given order. Reports are trusted, validated at decode.
func Build(reports []ingest.Report) *Batch {
	if len(reports) == 0 {
		return Empty()
	}
	records := make([]record, len(reports))
	for i, r := range reports {
		records[i] = record{Value: r.Value, DeviceId: r.DeviceId}
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(reports)*48))
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		// only possible with invalid UTF-8, which json replaces anyway
		panic(fmt.Sprintf("code error batch encode err=%v", err))
	}
	return &Batch{
		Id:      uuid.New().String(),
		Payload: bytes.TrimRight(buf.Bytes(), "\n"),
		Count:   len(reports),
	}
}
