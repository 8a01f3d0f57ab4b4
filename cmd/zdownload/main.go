package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"thirdcoast.systems/zdownload/internal/assets"
	"thirdcoast.systems/zdownload/internal/config"
	"thirdcoast.systems/zdownload/internal/session"
	"thirdcoast.systems/zdownload/pkg/provision"
	"thirdcoast.systems/zdownload/pkg/supervisor"
)

const usage = `usage: zdownload [flags] <command> [args]

commands:
  get <text...>              download the first URL found in text
  serve                      run the local HTTP API
  settings [key=value...]    print or update saved settings
  tools                      provision the tools and print their versions

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("zdownload", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	config.RegisterFlags(flags)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := config.BindFlags(flags); err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 2
	}

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 2
	}
	slog.SetDefault(newLogger(conf, stderr))

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return 2
	}

	switch rest[0] {
	case "get":
		return runGet(ctx, conf, rest[1:], stdout, stderr)
	case "serve":
		return runServe(ctx, conf, stderr)
	case "settings":
		return runSettings(conf, rest[1:], stdout, stderr)
	case "tools":
		return runTools(ctx, conf, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "zdownload: unknown command %q\n", rest[0])
		flags.Usage()
		return 2
	}
}

func newLogger(conf *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: conf.SlogLevel()}
	if conf.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// payloadSource picks where tool executables come from.
func payloadSource(conf *config.Config) provision.Source {
	embedded := provision.FSSource{FS: assets.Payloads()}
	switch conf.ToolsSource {
	case config.ToolsSourceEmbedded:
		return embedded
	case config.ToolsSourcePath:
		return provision.PathSource{}
	default:
		return provision.ChainSource{embedded, provision.PathSource{}}
	}
}

func processOptions(conf *config.Config) (supervisor.Options, error) {
	enc, err := supervisor.LookupEncoding(conf.OutputEncoding)
	if err != nil {
		return supervisor.Options{}, err
	}
	return supervisor.Options{Encoding: enc, KillGrace: conf.KillGrace}, nil
}

func newRunner(conf *config.Config) (*session.Runner, error) {
	opts, err := processOptions(conf)
	if err != nil {
		return nil, err
	}
	policy, err := session.ParseCleanupPolicy(conf.CleanupPolicy)
	if err != nil {
		return nil, err
	}

	r := session.NewRunner(payloadSource(conf), conf.ToolsDir)
	r.Process = opts
	r.RelayInterval = conf.RelayInterval
	r.Cleanup = policy
	return r, nil
}
