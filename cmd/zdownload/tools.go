package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"thirdcoast.systems/zdownload/internal/assets"
	"thirdcoast.systems/zdownload/internal/config"
	"thirdcoast.systems/zdownload/pkg/provision"
	"thirdcoast.systems/zdownload/pkg/supervisor"
)

// runTools provisions both tools, asks each for its version and removes them.
func runTools(ctx context.Context, conf *config.Config, stdout, stderr io.Writer) int {
	opts, err := processOptions(conf)
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 2
	}

	for _, kind := range []provision.Kind{provision.Downloader, provision.Muxer} {
		fmt.Fprintf(stdout, "%s embedded: %t\n", kind, assets.Has(kind, runtime.GOOS))
	}

	prov := provision.New(payloadSource(conf), conf.ToolsDir)
	tools, err := prov.Provision(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 1
	}
	defer prov.Cleanup()

	checks := []struct {
		path string
		args []string
	}{
		{tools.Downloader, []string{"--version"}},
		{tools.Muxer, []string{"-version"}},
	}
	status := 0
	for _, c := range checks {
		first := ""
		out, err := supervisor.Run(ctx, c.path, c.args, opts, func(l supervisor.OutputLine) {
			if first == "" && l.Stream == supervisor.Stdout {
				first = l.Text
			}
		})
		if err != nil {
			fmt.Fprintf(stderr, "zdownload: %v\n", err)
			status = 1
			continue
		}
		if out.Kind != supervisor.Succeeded {
			fmt.Fprintf(stderr, "zdownload: %s: %s\n", c.path, out.Detail)
			status = 1
			continue
		}
		fmt.Fprintf(stdout, "%s: %s\n", c.path, first)
	}
	return status
}
