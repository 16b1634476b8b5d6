package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hic-eventgen/hic-eventgen/hic"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <checkpoint>",
	Short: "Rerun the event captured in a checkpoint file",
	Long: "Load (configuration, initial condition) from a checkpoint blob and process " +
		"that single event. The checkpoint must record the path it is loaded from; a " +
		"renamed or copied file is rejected.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, ic, err := hic.LoadCheckpoint(args[0])
		if err != nil {
			logrus.Fatalf("loading checkpoint: %v", err)
		}
		setupLogging(cfg.LogLevel)
		logrus.Infof("resuming from %s (%d-cell initial condition)", args[0], ic.N())

		ctx := context.Background()
		session, err := hic.NewSession(ctx, cfg)
		if err != nil {
			logrus.Fatalf("starting session: %v", err)
		}
		session.Resume(ic)
		if err := session.Run(ctx); err != nil {
			if errors.Is(err, hic.ErrRunFailed) {
				logrus.Errorf("%v", err)
				os.Exit(1)
			}
			logrus.Fatalf("run aborted: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
