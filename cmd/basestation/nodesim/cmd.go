package nodesim

import (
	"context"
	"strconv"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/cmd/basestation/subcmd"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/internal/state"
	"github.com/vaquinet/basestation/transport/mqtt"
)

var Mod = subcmd.Mod{Name: "nodesim", Usage: "[N] simulate config nodes, or N generated nodes, via mqtt broker", Main: Main}

func Main(ctx context.Context, config *config.Config, args []string) error {
	g := state.GetGlobal(ctx)
	ids, err := Nodes(config, args)
	if err != nil {
		return err
	}
	mc := &config.Transport.Mqtt
	sim := &mqtt.Simulator{
		Opt: mqtt.Options{
			BrokerURL:      mc.BrokerURL(),
			Prefix:         mc.TopicPrefix(),
			ClientID:       mc.Client() + "-nodesim",
			Username:       mc.Username,
			Password:       mc.Password,
			NetworkTimeout: mc.NetworkTimeout(),
		},
		Nodes: ids,
	}
	if err := sim.Start(g.Log); err != nil {
		return errors.Annotate(err, "nodesim")
	}
	subcmd.StopOnSignal(ctx)
	<-g.Alive.StopChan()
	sim.Stop()
	return nil
}

// Nodes returns config static nodes, or N locally administered ids 02:00:00:00:xx:xx.
func Nodes(config *config.Config, args []string) ([]node.Id, error) {
	if len(args) == 0 {
		ids, err := config.NodeIds()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(ids) == 0 {
			return nil, errors.NotValidf("config nodes empty and N not given")
		}
		return ids, nil
	}
	n, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || n == 0 {
		return nil, errors.NotValidf("nodesim N=%s", args[0])
	}
	ids := make([]node.Id, n)
	for i := range ids {
		ids[i] = node.Id{0x02, 0, 0, 0, byte(i >> 8), byte(i)}
	}
	return ids, nil
}
