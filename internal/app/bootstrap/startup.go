// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"

	podstore "github.com/quietcove/podhub/internal/app/store/pods"
	"github.com/quietcove/podhub/internal/app/system/timeouts"
	"github.com/quietcove/podhub/internal/app/system/workers"
)

// podSweep runs for the life of the process; Shutdown stops it.
var podSweep *workers.PodSweep

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{
		Short:  appCfg.TimeoutShort,
		Medium: appCfg.TimeoutMedium,
		Long:   appCfg.TimeoutLong,
	})

	if appCfg.SweepInterval > 0 {
		podSweep = workers.NewPodSweep(podstore.New(deps.PodHubMongoDatabase), logger, appCfg.SweepInterval)
		podSweep.Start()
	}
	return nil
}
