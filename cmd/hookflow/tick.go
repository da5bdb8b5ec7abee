package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func tickCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single engine cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, eng, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			rep, err := eng.RunCycle(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Int("selected", rep.Selected).
				Int("executed", rep.Executed).
				Int("failed", rep.Failed).
				Int("save_errors", rep.SaveErrors).
				Msg("tick complete")
			return nil
		},
	}
}
