package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"thirdcoast.systems/zdownload/internal/config"
	"thirdcoast.systems/zdownload/internal/settings"
)

func runSettings(conf *config.Config, args []string, stdout, stderr io.Writer) int {
	store := settings.NewStore(conf.SettingsPath)
	st := store.Load()

	if len(args) > 0 {
		for _, kv := range args {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				fmt.Fprintf(stderr, "zdownload: expected key=value, got %q\n", kv)
				return 2
			}
			if err := st.Set(strings.TrimSpace(key), value); err != nil {
				fmt.Fprintf(stderr, "zdownload: %v\n", err)
				return 2
			}
		}
		if err := store.Save(st); err != nil {
			fmt.Fprintf(stderr, "zdownload: %v\n", err)
			return 1
		}
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "zdownload: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}
