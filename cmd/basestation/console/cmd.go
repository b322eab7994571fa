package console

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/vaquinet/basestation/cmd/basestation/subcmd"
	"github.com/vaquinet/basestation/helpers/cli"
	"github.com/vaquinet/basestation/internal/batch"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/ingest"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/internal/state"
)

const modName = "console"

const usage = `syntax: one command per line
- nodes            list registry in poll order
- add ID           register node, ID is MAC in any common form
- remove ID        forget node
- trigger ID       send trigger now, outside of poll order
- report ID JSON   inject payload as if received from node ID, queued on next tick
- decode JSON      parse payload, show report and batch without queueing
- tick [N]         run N gateway steps (default 1), time advances by tick_ms
- stat             counters
- exit`

var Mod = subcmd.Mod{Name: modName, Usage: "manual gateway steps for bench testing", Main: Main}

func Main(ctx context.Context, config *config.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%s", g.Config.String())

	return cli.MainLoop(modName, NewExecutor(ctx), newCompleter(), func() {
		if err := g.Gateway.Close(); err != nil {
			g.Log.Error(err)
		}
	})
}

func newCompleter() cli.CompleteFunc {
	suggests := []prompt.Suggest{
		{Text: "nodes", Description: "list registry"},
		{Text: "add", Description: "register node"},
		{Text: "remove", Description: "forget node"},
		{Text: "trigger", Description: "send trigger now"},
		{Text: "report", Description: "inject payload"},
		{Text: "decode", Description: "parse payload"},
		{Text: "tick", Description: "run gateway steps"},
		{Text: "stat", Description: "counters"},
		{Text: "help"},
		{Text: "exit"},
	}
	return func(d prompt.Document) []prompt.Suggest { return cli.Suggest(d, suggests) }
}

// NewExecutor runs console commands against global gateway in caller goroutine.
func NewExecutor(ctx context.Context) cli.ExecFunc {
	g := state.GetGlobal(ctx)
	gw := g.Gateway
	now := time.Now()
	return func(line string) {
		word, rest := line, ""
		if i := strings.IndexByte(line, ' '); i >= 0 {
			word, rest = line[:i], strings.TrimSpace(line[i+1:])
		}
		parseId := func(s string) (node.Id, bool) {
			id, err := node.ParseId(s)
			if err != nil {
				g.Log.Errorf("%s err=%v", word, err)
				return id, false
			}
			return id, true
		}

		switch word {
		case "help":
			g.Log.Info(usage)

		case "nodes":
			gw.Registry().Each(func(i int, id node.Id) {
				g.Log.Infof("%3d %s", i, id)
			})
			g.Log.Infof("nodes=%d cap=%d next=%d state=%s", gw.Registry().Size(), gw.Registry().Cap(), gw.Scheduler().Index(), gw.Scheduler().State())

		case "add":
			if id, ok := parseId(rest); ok {
				if evicted, did := gw.Registry().Add(id); did {
					g.Log.Infof("evicted %s", evicted)
				}
			}

		case "remove":
			if id, ok := parseId(rest); ok {
				gw.Registry().Remove(id)
			}

		case "trigger":
			if id, ok := parseId(rest); ok {
				if err := gw.Trigger(id); err != nil {
					g.Log.Errorf("trigger err=%v", err)
				}
			}

		case "report":
			idText, payload := rest, ""
			if i := strings.IndexByte(rest, ' '); i >= 0 {
				idText, payload = rest[:i], strings.TrimSpace(rest[i+1:])
			}
			if id, ok := parseId(idText); ok {
				gw.Inject(id, []byte(payload))
				g.Log.Infof("reports=%d decode_errors=%d", gw.Stat().Reports.Load(), gw.Stat().DecodeErrors.Load())
			}

		case "decode":
			r, err := ingest.Decode(node.Zero, []byte(rest), time.Now())
			if err != nil {
				g.Log.Errorf("decode err=%v", err)
				return
			}
			b := batch.Build([]ingest.Report{r})
			g.Log.Infof("report %s", r.String())
			g.Log.Infof("batch %s", b.Payload)

		case "tick":
			n := 1
			if rest != "" {
				var err error
				if n, err = strconv.Atoi(rest); err != nil || n < 1 {
					g.Log.Errorf("tick N=%s invalid", rest)
					return
				}
			}
			for i := 0; i < n; i++ {
				gw.Tick(ctx, now)
				now = now.Add(g.Config.TickInterval())
			}
			g.Log.Infof("tick done queue=%d pending=%s", gw.Queue().Len(), gw.Pending())

		case "stat":
			g.Log.Info(gw.Stat().Snapshot().String())

		default:
			g.Log.Errorf("unknown command=%s, try help", word)
		}
	}
}
