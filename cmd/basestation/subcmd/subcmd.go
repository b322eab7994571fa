// Support sub-commands in basestation application.
package subcmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/state"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(ctx context.Context, config *config.Config, args []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func PrintUsage(w io.Writer, modules []Mod) {
	for _, m := range modules {
		fmt.Fprintf(w, "  %-10s %s\n", m.Name, m.Usage)
	}
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// StopOnSignal stops global alive on SIGINT/SIGTERM.
func StopOnSignal(ctx context.Context) {
	g := state.GetGlobal(ctx)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigs:
			g.Log.Infof("signal=%v stopping", s)
			SdNotify(daemon.SdNotifyStopping)
			g.Stop()
		case <-g.Alive.StopChan():
		}
		signal.Stop(sigs)
	}()
}
