// Package gc removes build contexts left behind by crashed or interrupted
// creates. Live contexts are identified by the instance index; everything
// else under the builds root is fair game.
package gc

import (
	"context"
	"os"
	"path/filepath"

	"github.com/projecteru2/core/log"

	"github.com/playpenhq/playpen/config"
	"github.com/playpenhq/playpen/utils"
)

// Sweeper removes unreferenced build-context directories.
type Sweeper struct {
	conf *config.Config
}

// New creates a Sweeper.
func New(conf *config.Config) *Sweeper {
	return &Sweeper{conf: conf}
}

// Run deletes every directory under the builds root whose key is not in
// used. Returns the keys it removed.
func (s *Sweeper) Run(ctx context.Context, used map[string]struct{}) ([]string, error) {
	logger := log.WithFunc("gc.Run")

	candidates := utils.ScanSubdirs(s.conf.BuildsRoot())
	orphans := utils.FilterUnreferenced(candidates, used)

	var removed []string
	for _, key := range orphans {
		dir := filepath.Join(s.conf.BuildsRoot(), key)
		if err := os.RemoveAll(dir); err != nil {
			logger.Warnf(ctx, "remove %s: %v", dir, err)
			continue
		}
		logger.Infof(ctx, "removed orphan build context %s", key)
		removed = append(removed, key)
	}
	return removed, nil
}
