package cmd

import (
	"context"
	"errors"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/playpenhq/playpen/httpapi"
	"github.com/playpenhq/playpen/manager"
	"github.com/playpenhq/playpen/registry"
)

var factoryCmd = &cobra.Command{
	Use:   "factory",
	Short: "Run the game-instance factory: upload API, orchestrator, idle manager",
	RunE:  runFactory,
}

func runFactory(_ *cobra.Command, _ []string) error {
	ctx, cancel := newCommandContext()
	defer cancel()
	logger := log.WithFunc("cmd.factory")

	orch, err := initOrchestrator()
	if err != nil {
		return err
	}
	mgr := manager.New(conf, orch, registry.NewClient(conf.RegistryURL))
	handler := httpapi.NewHandler(conf, orch, mgr)
	srv := httpapi.NewServer("factory", conf.FactoryAddr, handler.Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return mgr.Run(gctx) })

	err = g.Wait()
	// Let in-flight build/starts settle so no record is left "creating".
	orch.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof(ctx, "factory stopped")
	return nil
}
