package cmd

import (
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/playpenhq/playpen/gc"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove build contexts no longer referenced by any instance",
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	orch, err := initOrchestrator()
	if err != nil {
		return err
	}

	used, err := orch.ContextKeys(ctx)
	if err != nil {
		return err
	}
	removed, err := gc.New(conf).Run(ctx, used)
	if err != nil {
		return err
	}
	log.WithFunc("cmd.gc").Infof(ctx, "GC completed, removed %d build contexts", len(removed))
	return nil
}
