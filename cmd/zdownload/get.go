package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"thirdcoast.systems/zdownload/internal/config"
	"thirdcoast.systems/zdownload/internal/session"
	"thirdcoast.systems/zdownload/internal/settings"
	"thirdcoast.systems/zdownload/internal/sourceurl"
)

func runGet(ctx context.Context, conf *config.Config, args []string, stdout, stderr io.Writer) int {
	runner, err := newRunner(conf)
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 2
	}

	// No URL in the text submits an empty one, which the session rejects.
	url, _ := sourceurl.Extract(strings.Join(args, " "))
	req := settings.NewStore(conf.SettingsPath).Load().Request(url)

	sess, err := runner.Submit(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 1
	}

	for ev := range sess.Events() {
		switch ev.Kind {
		case session.EventLine:
			fmt.Fprintln(stdout, ev.Line.String())
		case session.EventState:
			slog.Debug("session state", "session", sess.ID, "state", ev.State.String())
		}
	}

	out := sess.Wait()
	if out.Kind != session.OutcomeSuccess {
		fmt.Fprintf(stderr, "zdownload: %s: %s\n", out.Kind, out.Detail)
		return 1
	}
	return 0
}
