package cmd

import (
	"context"
	"errors"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/playpenhq/playpen/httpapi"
	"github.com/playpenhq/playpen/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Run the liveness registry: registration, heartbeats, stale eviction",
	RunE:  runRegistry,
}

func runRegistry(_ *cobra.Command, _ []string) error {
	ctx, cancel := newCommandContext()
	defer cancel()
	logger := log.WithFunc("cmd.registry")

	reg := registry.New(conf.HeartbeatTimeout(), conf.EvictionInterval())
	srv := httpapi.NewServer("registry", conf.RegistryAddr, registry.NewHandler(reg).Routes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return reg.RunEviction(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof(ctx, "registry stopped")
	return nil
}
