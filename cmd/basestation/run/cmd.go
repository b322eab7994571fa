package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/vaquinet/basestation/cmd/basestation/subcmd"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "poll nodes and relay reports to collector (default)", Main: Main}

func Main(ctx context.Context, config *config.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%s", g.Config.String())
	g.Publish("basestation")

	subcmd.StopOnSignal(ctx)
	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("basestation init complete, running")
	err := g.Gateway.Run(ctx, g.Alive)
	g.Log.Infof("basestation stopped stat=%s", g.Gateway.Stat().Snapshot().String())
	return err
}
