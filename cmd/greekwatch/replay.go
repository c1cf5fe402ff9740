package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/greekwatch/internal/config"
	"github.com/rewired-gh/greekwatch/internal/feed"
	"github.com/rewired-gh/greekwatch/internal/logger"
)

func newReplayCmd(load func() (*config.Config, error)) *cobra.Command {
	var notify, persist bool

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Run recorded JSON-lines snapshots through the monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !notify {
				cfg.Telegram.Enabled = false
			}
			if !persist && cfg.Storage.Enabled {
				cfg.Storage.DBPath = ":memory:"
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			src, err := feed.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			total := 0
			for {
				ticks, err := src.Fetch(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				for _, al := range a.handleCycle(ctx, ticks) {
					fmt.Fprintln(out, al.Message)
					total++
				}
			}
			a.checkpoint()

			logger.Info("Replay finished: %d cycles, %d alerts", a.cycles.Load(), total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Send alerts to Telegram during replay")
	cmd.Flags().BoolVar(&persist, "persist", false, "Read and write the configured database instead of an in-memory one")
	return cmd
}
