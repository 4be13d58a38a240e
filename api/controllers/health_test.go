package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("down") })

	cases := []struct {
		name   string
		db     pinger
		redis  pinger
		status int
		code   string
	}{
		{"ready", ok, ok, http.StatusOK, ""},
		{"db down", down, ok, http.StatusServiceUnavailable, string(pkgerrors.CodeStoreUnavailable)},
		{"redis down", ok, down, http.StatusServiceUnavailable, string(pkgerrors.CodeDependency)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthReady(cfg, nil, tc.db, tc.redis).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			if rec.Header().Get("X-PartScan-Env") != "test" {
				t.Fatalf("missing env header")
			}
			if tc.code != "" {
				env := decodeEnvelope(t, rec)
				if env.Error == nil || env.Error.Code != tc.code {
					t.Fatalf("expected code %s got %+v", tc.code, env.Error)
				}
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthLive(&config.Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
