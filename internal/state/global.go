// Package state wires config into a running gateway and carries it through context.
package state

import (
	"context"
	"expvar"
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/vaquinet/basestation/hardware/led"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/gateway"
	"github.com/vaquinet/basestation/internal/guard"
	"github.com/vaquinet/basestation/internal/relay"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
	"github.com/vaquinet/basestation/transport/mqtt"
	"github.com/vaquinet/basestation/transport/serial"
)

const ContextKey = "run/state-global"

// Global is process wide state of base station.
// Transport, Poster and Prober may be preset before Init, otherwise built from config.
type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *config.Config
	Gateway      *gateway.Gateway
	Log          *log2.Log

	Transport transport.Transporter
	Poster    relay.Poster
	Prober    guard.Prober

	// relay byte counters, published with gateway stats
	BytesOut expvar.Int
	BytesIn  expvar.Int
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *config.Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)
	if g.BuildVersion == "" || g.BuildVersion == "unknown" {
		g.Log.Errorf("build version is not set, please use script/build")
	}

	errs := make([]error, 0, 4)
	if g.Transport == nil {
		tr, err := NewTransport(cfg)
		g.Transport = tr
		errs = append(errs, errors.Annotate(err, "transport"))
	}
	if g.Poster == nil {
		p, err := relay.NewHTTPPoster(relay.HTTPConfig{
			Timeout:   cfg.Relay.Timeout(),
			TlsCaFile: cfg.Relay.TlsCaFile,
			Insecure:  cfg.Relay.Insecure,
			BytesOut:  &g.BytesOut,
			BytesIn:   &g.BytesIn,
		})
		g.Poster = p
		errs = append(errs, errors.Annotate(err, "relay"))
	}
	if g.Prober == nil {
		p, err := NewProber(&cfg.Guard)
		g.Prober = p
		errs = append(errs, errors.Annotate(err, "guard"))
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return err
	}

	gw, err := gateway.New(cfg, g.Transport, g.Poster, g.Prober, g.Log)
	if err != nil {
		return errors.Annotate(err, "gateway")
	}
	gw.BuildVersion = g.BuildVersion
	if cfg.Led.Enable {
		// indicator is optional, gateway works without it
		if gw.Led, err = led.Open(cfg.Led.ChipPath(), cfg.Led.Pin, cfg.Led.Pulse()); err != nil {
			g.Error(err, "led")
		}
	}
	if err = gw.Init(ctx); err != nil {
		return errors.Trace(err)
	}
	g.Gateway = gw
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *config.Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

// Publish exposes gateway and relay counters via expvar under prefix.
// Safe to call once per process, expvar panics on duplicate names.
func (g *Global) Publish(prefix string) {
	g.Gateway.Stat().Publish(prefix)
	expvar.Publish(prefix+".relay_bytes_out", &g.BytesOut)
	expvar.Publish(prefix+".relay_bytes_in", &g.BytesIn)
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

func NewTransport(cfg *config.Config) (transport.Transporter, error) {
	tc := &cfg.Transport
	switch kind := cfg.TransportKind(); kind {
	case config.TransportMqtt:
		return mqtt.New(mqtt.Options{
			BrokerURL:      tc.Mqtt.BrokerURL(),
			Prefix:         tc.Mqtt.TopicPrefix(),
			ClientID:       tc.Mqtt.Client(),
			Username:       tc.Mqtt.Username,
			Password:       tc.Mqtt.Password,
			KeepAlive:      tc.Mqtt.Keepalive(),
			NetworkTimeout: tc.Mqtt.NetworkTimeout(),
			TlsCaFile:      tc.Mqtt.TlsCaFile,
			PeerLimit:      tc.Mqtt.PeerLimit,
			LibraryLog:     true,
			LogDebug:       tc.Mqtt.LogDebug,
		}), nil
	case config.TransportSerial:
		return serial.New(tc.Serial.Device, tc.Serial.BaudRate()), nil
	case config.TransportNoop:
		return transport.Noop{}, nil
	default:
		return nil, errors.NotValidf("transport.kind=%s", kind)
	}
}

func NewProber(gc *config.GuardConfig) (guard.Prober, error) {
	switch gc.Prober {
	case "", config.ProberSysinfo:
		return guard.SysinfoProber{}, nil
	case config.ProberRuntime:
		if gc.HeapLimit() == 0 {
			return nil, errors.NotValidf("guard.heap_limit_mb=0 with prober=%s", gc.Prober)
		}
		return guard.RuntimeProber{Limit: gc.HeapLimit()}, nil
	default:
		return nil, errors.NotValidf("guard.prober=%s", gc.Prober)
	}
}
