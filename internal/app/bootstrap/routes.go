// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/engine"
	healthfeature "github.com/quietcove/podhub/internal/app/features/health"
	podsfeature "github.com/quietcove/podhub/internal/app/features/pods"
	memberstore "github.com/quietcove/podhub/internal/app/store/members"
	messagestore "github.com/quietcove/podhub/internal/app/store/messages"
	podstore "github.com/quietcove/podhub/internal/app/store/pods"
	"github.com/quietcove/podhub/internal/app/system/identity"
	"github.com/quietcove/podhub/internal/app/system/ratelimit"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. PodHub wires the Mongo-backed stores
// into the matchmaking engine, builds the anonymous-identity provider, and
// mounts the pod API plus the health endpoint.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// The anonymous id rides in a signed cookie; secure in production.
	secure := coreCfg.Env == "prod"
	ident, err := identity.NewCookieProvider(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, secure, logger)
	if err != nil {
		logger.Error("identity provider init failed", zap.Error(err))
		return nil, err
	}

	db := deps.PodHubMongoDatabase
	eng := engine.New(
		podstore.New(db),
		memberstore.New(db),
		messagestore.New(db, logger),
		logger,
	)

	r := chi.NewRouter()

	// Everything under /pods is anonymous, so the only abuse handle is
	// the client address.
	limiter := ratelimit.New(120, time.Minute)

	r.With(limiter.Middleware).Mount("/pods", podsfeature.Routes(podsfeature.NewHandler(eng, ident, logger)))
	r.Mount("/health", healthfeature.Routes(healthfeature.NewHandler(deps.PodHubMongoClient, logger)))

	return r, nil
}
