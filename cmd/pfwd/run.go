package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/supervisor"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Validate the configuration and run all forwarding pipelines until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadAndMerge()
			if err != nil {
				return err
			}

			specs, err := config.Validate(file)
			if err != nil {
				return err
			}

			log := pflog.New(file.Defaults.LogLevel, file.Defaults.LogFormat)
			log.WithField("pipelines", len(specs)).Info("starting supervisor")

			sup := supervisor.New(specs, log)
			return sup.Run(context.Background())
		},
	}
}
