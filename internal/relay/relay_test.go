package relay

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/batch"
	"github.com/vaquinet/basestation/internal/ingest"
)

type fakePoster struct {
	calls  int
	status int
	err    error
	header http.Header
	body   []byte
}

func (f *fakePoster) Post(ctx context.Context, url, contentType string, body []byte, header http.Header) (int, []byte, error) {
	f.calls++
	f.header = header
	f.body = body
	return f.status, nil, f.err
}

func testBatch() *batch.Batch {
	return batch.Build([]ingest.Report{{Value: 42, DeviceId: "4C11AE7047AC"}})
}

func TestRelayOutcome(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		err     error
		expect  Outcome
		expCode int
	}{
		{"200", 200, nil, Delivered, 200},
		{"201", 201, nil, Delivered, 201},
		{"204", 204, nil, Rejected, 204},
		{"400", 400, nil, Rejected, 400},
		{"500", 500, nil, Rejected, 500},
		{"transport", 0, fmt.Errorf("connection refused"), TransportFailed, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			p := &fakePoster{status: c.status, err: c.err}
			cl := New(p, Config{URL: "http://collector/data", UserAgent: "basestation/test"})
			b := testBatch()
			r := cl.Relay(context.Background(), b)
			assert.Equal(t, c.expect, r.Outcome, r.String())
			assert.Equal(t, c.expCode, r.Code)
			assert.True(t, r.IO)
			assert.Equal(t, 1, p.calls)
			assert.Equal(t, 1, b.Attempts)
			assert.Equal(t, b.Id, p.header.Get("Idempotency-Key"))
			assert.Equal(t, "basestation/test", p.header.Get("User-Agent"))
			if c.err != nil {
				require.Error(t, r.Err)
				assert.Equal(t, c.err, errors.Cause(r.Err))
			}
		})
	}
}

func TestRelayEmptyNoIO(t *testing.T) {
	t.Parallel()
	p := &fakePoster{status: 500}
	cl := New(p, Config{URL: "http://collector/data"})
	for _, b := range []*batch.Batch{nil, batch.Empty(), batch.Build(nil)} {
		r := cl.Relay(context.Background(), b)
		assert.Equal(t, Delivered, r.Outcome)
		assert.False(t, r.IO)
	}
	assert.Equal(t, 0, p.calls)
}

func TestRelaySameIdOnRetry(t *testing.T) {
	t.Parallel()
	p := &fakePoster{err: fmt.Errorf("timeout")}
	cl := New(p, Config{URL: "http://collector/data"})
	b := testBatch()
	cl.Relay(context.Background(), b)
	first := p.header.Get("Idempotency-Key")
	cl.Relay(context.Background(), b)
	assert.Equal(t, first, p.header.Get("Idempotency-Key"))
	assert.Equal(t, 2, b.Attempts)
}

func TestHTTPPosterMock(t *testing.T) {
	t.Parallel()
	mock := &helpers.MockHTTP{Header: []byte("HTTP/1.0 201 Created\r\n\r\n"), Body: []byte(`{"ok":true}`)}
	out := new(expvar.Int)
	p, err := NewHTTPPoster(HTTPConfig{Transport: mock, BytesOut: out})
	require.NoError(t, err)
	cl := New(p, Config{URL: "http://collector.local/data", UserAgent: "basestation/test"})
	b := testBatch()
	r := cl.Relay(context.Background(), b)
	assert.Equal(t, Delivered, r.Outcome, r.String())
	assert.Equal(t, 201, r.Code)
	assert.Equal(t, `{"ok":true}`, string(r.Body))

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "http://collector.local/data", reqs[0].URL)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, b.Id, reqs[0].Header.Get("Idempotency-Key"))
	assert.Equal(t, `[{"value":42,"deviceId":"4C11AE7047AC"}]`, string(reqs[0].Body))
	assert.Equal(t, int64(len(b.Payload)), out.Value())
}

func TestHTTPPosterTransportError(t *testing.T) {
	t.Parallel()
	mock := &helpers.MockHTTP{Err: fmt.Errorf("network unreachable")}
	p, err := NewHTTPPoster(HTTPConfig{Transport: mock})
	require.NoError(t, err)
	r := New(p, Config{URL: "http://collector.local/data"}).Relay(context.Background(), testBatch())
	assert.Equal(t, TransportFailed, r.Outcome)
	assert.Contains(t, r.Err.Error(), "network unreachable")
}

func TestHTTPPosterServer(t *testing.T) {
	t.Parallel()
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTPPoster(HTTPConfig{})
	require.NoError(t, err)
	b := testBatch()
	r := New(p, Config{URL: srv.URL}).Relay(context.Background(), b)
	assert.Equal(t, Rejected, r.Outcome)
	assert.Equal(t, http.StatusServiceUnavailable, r.Code)
	assert.Equal(t, b.Payload, got)
}

func TestHTTPPosterBadCA(t *testing.T) {
	t.Parallel()
	_, err := NewHTTPPoster(HTTPConfig{TlsCaFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ca file=/nonexistent/ca.pem")
}
