package state

import (
	"context"
	"os"
	"testing"

	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/guard"
	"github.com/vaquinet/basestation/internal/relay"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
)

// NewTestContext returns initialized Global with mock radio and mock collector.
// Relay url and noop transport kind are prepended to confString, so it may be empty.
func NewTestContext(t testing.TB, buildVersion string, confString string) (context.Context, *Global, *transport.Mock, *helpers.MockHTTP) {
	fs := config.NewMockFullReader(map[string]string{
		"test-inline": `relay { url = "http://collector.test/esp/data" }
transport { kind = "noop" }
` + confString,
	})

	var log *log2.Log
	if os.Getenv("basestation_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.BuildVersion = buildVersion

	mock := transport.NewMock(t, 64)
	mockHTTP := &helpers.MockHTTP{}
	poster, err := relay.NewHTTPPoster(relay.HTTPConfig{Transport: mockHTTP, BytesOut: &g.BytesOut, BytesIn: &g.BytesIn})
	if err != nil {
		t.Fatal(err)
	}
	g.Transport = mock
	g.Poster = poster
	g.Prober = guard.ProberFunc(func() (uint64, error) { return 1 << 30, nil })
	g.MustInit(ctx, config.MustReadConfig(log, fs, "test-inline"))
	return ctx, g, mock, mockHTTP
}
