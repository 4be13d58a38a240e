package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/partscan-backend/api/responses"
	"github.com/angelmondragon/partscan-backend/api/validators"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/partscan-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"

	mutationTTL = 24 * time.Hour
	// scans and cancels move stock, so their keys outlive a long retry loop
	stockMoveTTL   = 7 * 24 * time.Hour
	reservationTTL = time.Minute
)

// idempotentRoutes are matched with path.Match against the request path.
var idempotentRoutes = []struct {
	method string
	glob   string
	ttl    time.Duration
}{
	{http.MethodPost, "/api/v1/parts", mutationTTL},
	{http.MethodPost, "/api/v1/parts/*/restock", mutationTTL},
	{http.MethodPost, "/api/v1/requests", mutationTTL},
	{http.MethodPut, "/api/v1/products/*/bom", mutationTTL},
	{http.MethodPost, "/api/v1/requests/*/scans", stockMoveTTL},
	{http.MethodPost, "/api/v1/requests/*/cancel", stockMoveTTL},
}

var (
	errKeyInFlight = pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress")
	errKeyReused   = pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
)

type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the mutating routes safe to retry. The first request for
// an operator, route and Idempotency-Key claims the key before its handler
// runs; later ones either replay the stored response or are rejected while
// the first is still in flight. 5xx responses release the key unstored.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := idempotencyTTL(r.Method, trimmedPath(r.URL.Path))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			id := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if id == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validators.MaxBodyBytes))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(strings.Join([]string{OperatorFromContext(ctx), r.Method, r.URL.Path}, "|"), id)

			claimed, err := claim(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !claimed {
				replay(w, r, store, key, fingerprint, logg)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			finish(context.WithoutCancel(ctx), store, key, ttl, storedResponse{
				Fingerprint: fingerprint,
				Status:      defaultStatus(ww.Status()),
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			}, logg)
		})
	}
}

func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string) (bool, error) {
	marker, err := json.Marshal(storedResponse{Fingerprint: fingerprint, InFlight: true})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), reservationTTL)
}

// finish swaps the in-flight marker for the final response.
func finish(ctx context.Context, store pkgredis.IdempotencyStore, key string, ttl time.Duration, resp storedResponse, logg *logger.Logger) {
	if err := store.Del(ctx, key); err != nil {
		logError(ctx, logg, "release idempotency reservation", err)
		return
	}
	if resp.Status >= http.StatusInternalServerError {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		logError(ctx, logg, "encode idempotency record", err)
		return
	}
	if _, err := store.SetNX(ctx, key, string(payload), ttl); err != nil {
		logError(ctx, logg, "persist idempotency record", err)
	}
}

func replay(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore, key, fingerprint string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// the reservation expired between the claim and this read
		responses.WriteError(ctx, logg, w, errKeyInFlight)
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if stored.Fingerprint != fingerprint {
		responses.WriteError(ctx, logg, w, errKeyReused)
		return
	}
	if stored.InFlight {
		responses.WriteError(ctx, logg, w, errKeyInFlight)
		return
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func trimmedPath(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}

func idempotencyTTL(method, requestPath string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.method != method {
			continue
		}
		if ok, _ := path.Match(route.glob, requestPath); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
