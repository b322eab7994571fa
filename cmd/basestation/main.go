package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/vaquinet/basestation/cmd/basestation/console"
	"github.com/vaquinet/basestation/cmd/basestation/nodesim"
	"github.com/vaquinet/basestation/cmd/basestation/run"
	"github.com/vaquinet/basestation/cmd/basestation/subcmd"
	"github.com/vaquinet/basestation/internal/config"
	"github.com/vaquinet/basestation/internal/state"
	"github.com/vaquinet/basestation/log2"
)

var log = log2.NewStderr(log2.LDebug)

var BuildVersion = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	nodesim.Mod,
	{Name: "version", Usage: "print build version", Main: func(context.Context, *config.Config, []string) error {
		fmt.Printf("basestation %s\n", BuildVersion)
		return nil
	}},
}

func main() {
	flags := pflag.NewFlagSet("basestation", pflag.ContinueOnError)
	flagConfig := flags.StringP("config", "c", "basestation.hcl", "config file, .hcl or .yaml")
	flagDebug := flags.Bool("debug", false, "debug log, same as log_debug=true")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: basestation [flags] [command [args]]\n\ncommands:\n")
		subcmd.PrintUsage(os.Stderr, modules)
		fmt.Fprintf(os.Stderr, "\nflags:\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}
	if !*flagDebug {
		log.SetLevel(log2.LInfo)
	}

	command, args := "run", []string(nil)
	if flags.NArg() > 0 {
		command, args = flags.Arg(0), flags.Args()[1:]
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flags.Usage()
		log.Fatal(err)
	}
	if mod.Name == "version" {
		_ = mod.Main(context.Background(), nil, args)
		return
	}

	log.Infof("basestation version=%s command=%s", BuildVersion, mod.Name)
	fs := config.NewOsFullReader()
	cfg := config.MustReadConfig(log, fs, *flagConfig)
	if *flagDebug {
		cfg.LogDebug = true
	}

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	if err := mod.Main(ctx, cfg, args); err != nil {
		g.Fatal(errors.Annotate(err, mod.Name))
	}
}
