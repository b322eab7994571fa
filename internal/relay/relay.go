// Package relay delivers batches to the collector.
package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/batch"
)

// Poster is the HTTP POST primitive, transport and TLS are its business.
// Non-nil error means no response at all.
type Poster interface {
	Post(ctx context.Context, url, contentType string, body []byte, header http.Header) (status int, respBody []byte, err error)
}

type Outcome int

const (
	Delivered Outcome = iota
	Rejected
	TransportFailed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case TransportFailed:
		return "transport-failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Result struct {
	Outcome Outcome
	Code    int
	Body    []byte
	Err     error
	IO      bool // false when short-circuited without network
}

func (r Result) String() string {
	switch r.Outcome {
	case Rejected:
		return fmt.Sprintf("rejected code=%d", r.Code)
	case TransportFailed:
		return fmt.Sprintf("transport-failed err=%v", r.Err)
	}
	return fmt.Sprintf("delivered code=%d io=%t", r.Code, r.IO)
}

type Config struct {
	URL         string
	ContentType string
	UserAgent   string
}

type Client struct {
	poster Poster
	config Config
}

func New(poster Poster, config Config) *Client {
	if poster == nil {
		panic("code error relay.New poster=nil")
	}
	if config.ContentType == "" {
		config.ContentType = batch.ContentType
	}
	return &Client{poster: poster, config: config}
}

// IsSuccess reports the two canonical REST success codes.
func IsSuccess(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated
}

// Relay makes at most one delivery attempt.
// Empty batch is Delivered without network IO.
func (self *Client) Relay(ctx context.Context, b *batch.Batch) Result {
	if b.IsEmpty() {
		return Result{Outcome: Delivered}
	}
	b.Attempts++
	header := make(http.Header, 2)
	header.Set("Idempotency-Key", b.Id)
	if self.config.UserAgent != "" {
		header.Set("User-Agent", self.config.UserAgent)
	}
	code, body, err := self.poster.Post(ctx, self.config.URL, self.config.ContentType, b.Payload, header)
	if err != nil {
		return Result{Outcome: TransportFailed, Err: errors.Annotatef(err, "relay %s", b), IO: true}
	}
	if !IsSuccess(code) {
		return Result{Outcome: Rejected, Code: code, Body: body, IO: true}
	}
	return Result{Outcome: Delivered, Code: code, Body: body, IO: true}
}
