package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PartScan-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the store and redis. A failing store is STORE_UNAVAILABLE.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP pinger, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PartScan-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, err, "database ping failed"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis ping failed").
					WithDetails(map[string]any{"dependency": "redis"}))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
