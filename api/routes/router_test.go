package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/partscan-backend/internal/dbtest"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/ledger"
	"github.com/angelmondragon/partscan-backend/internal/notifications"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/internal/scan"
	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	pkgredis "github.com/angelmondragon/partscan-backend/pkg/redis"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string]string
	windows map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, windows: map[string]int64{}}
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryStore) FixedWindow(_ context.Context, scope string, limit int64, window time.Duration) (pkgredis.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[scope]++
	n := m.windows[scope]
	return pkgredis.Window{Allowed: n <= limit, Count: n, ResetIn: window}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:           config.AppConfig{Env: "test"},
		ScanRateLimit: config.ScanRateLimitConfig{Window: time.Second, OperatorLimit: 100},
		CORS:          config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	client := dbtest.Open(t)
	runner := dbtest.Runner(client)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	reg := prometheus.NewRegistry()

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(client.DB()),
		Ledger:     ledgerSvc,
		TxRunner:   runner,
		Outbox:     emitter,
		Metrics:    metrics.NewInventoryMetrics(reg),
	})
	require.NoError(t, err)
	requestSvc, err := requests.NewService(requests.ServiceParams{
		Repository: requests.NewRepository(client.DB()),
		TxRunner:   runner,
		Outbox:     emitter,
	})
	require.NoError(t, err)
	coordinator, err := scan.NewCoordinator(scan.CoordinatorParams{
		TxRunner:  runner,
		Inventory: inventorySvc,
		Requests:  requestSvc,
		Outbox:    emitter,
		Metrics:   metrics.NewScanMetrics(reg),
	})
	require.NoError(t, err)
	notificationSvc, err := notifications.NewService(notifications.NewRepository(client.DB()))
	require.NoError(t, err)

	return NewRouter(cfg, nil, client, newMemoryStore(), metrics.NewHTTPMetrics(reg),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Services{
			Inventory:     inventorySvc,
			Requests:      requestSvc,
			Scanner:       coordinator,
			Notifications: notificationSvc,
		})
}

func do(t *testing.T, h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Operator", "alice")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func data(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func TestHealthRoutes(t *testing.T) {
	h := newTestRouter(t, testConfig())

	live := do(t, h, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, live.Code)
	ready := do(t, h, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.NotEmpty(t, ready.Header().Get("X-Request-Id"))
}

func TestMutatingRoutesRequireIdempotencyKey(t *testing.T) {
	h := newTestRouter(t, testConfig())
	rec := do(t, h, http.MethodPost, "/api/v1/parts", `{"part_id":"R100","initial_qty":1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanFlowEndToEnd(t *testing.T) {
	h := newTestRouter(t, testConfig())

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/parts", `{"part_id":"R100","initial_qty":3}`, "p1").Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/parts", `{"part_id":"C200","initial_qty":1}`, "p2").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/api/v1/products/BOARD-1/bom",
		`{"lines":[{"part_id":"R100","qty_needed":2},{"part_id":"C200","qty_needed":1}]}`, "t1").Code)

	created := do(t, h, http.MethodPost, "/api/v1/requests", `{"product_id":"BOARD-1","requested_by":"alice"}`, "r1")
	require.Equal(t, http.StatusCreated, created.Code)
	var createdBody struct {
		RequestID uuid.UUID `json:"request_id"`
	}
	data(t, created, &createdBody)
	base := "/api/v1/requests/" + createdBody.RequestID.String()

	first := do(t, h, http.MethodPost, base+"/scans", `{"part_id":"R100"}`, "s1")
	require.Equal(t, http.StatusOK, first.Code)

	replay := do(t, h, http.MethodPost, base+"/scans", `{"part_id":"R100"}`, "s1")
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replay"))
	assert.Equal(t, first.Body.String(), replay.Body.String())

	var part struct {
		Quantity int `json:"quantity"`
	}
	data(t, do(t, h, http.MethodGet, "/api/v1/parts/R100", "", ""), &part)
	assert.Equal(t, 2, part.Quantity, "replayed scan must not decrement twice")

	unknown := do(t, h, http.MethodPost, base+"/scans", `{"part_id":"NOPE"}`, "s-unknown")
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, base+"/scans", `{"part_id":"R100"}`, "s2").Code)
	last := do(t, h, http.MethodPost, base+"/scans", `{"part_id":"C200"}`, "s3")
	require.Equal(t, http.StatusOK, last.Code)

	var result scan.Result
	data(t, last, &result)
	assert.Equal(t, "fulfilled", string(result.RequestStatus))
	assert.Equal(t, result.Progress.Needed, result.Progress.Scanned)

	closed := do(t, h, http.MethodPost, base+"/scans", `{"part_id":"R100"}`, "s4")
	assert.Equal(t, http.StatusConflict, closed.Code)

	var progress map[string]any
	data(t, do(t, h, http.MethodGet, base+"/progress", "", ""), &progress)
	assert.EqualValues(t, 3, progress["scanned_total"])
	assert.EqualValues(t, 3, progress["needed_total"])

	var history struct {
		Transactions []struct {
			ChangeQty int    `json:"change_qty"`
			Reason    string `json:"reason"`
		} `json:"transactions"`
	}
	data(t, do(t, h, http.MethodGet, "/api/v1/parts/R100/transactions", "", ""), &history)
	require.Len(t, history.Transactions, 3)
}

func TestScanRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.ScanRateLimit.OperatorLimit = 1
	h := newTestRouter(t, cfg)

	id := uuid.NewString()
	first := do(t, h, http.MethodPost, "/api/v1/requests/"+id+"/scans", `{"part_id":"R100"}`, "a")
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)
	second := do(t, h, http.MethodPost, "/api/v1/requests/"+id+"/scans", `{"part_id":"R100"}`, "b")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, testConfig())
	do(t, h, http.MethodGet, "/health/live", "", "")

	rec := do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestNotificationRoutes(t *testing.T) {
	h := newTestRouter(t, testConfig())

	rec := do(t, h, http.MethodGet, "/api/v1/notifications?unread=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Notifications []json.RawMessage `json:"notifications"`
		Unread        int64             `json:"unread"`
	}
	data(t, rec, &page)
	assert.Empty(t, page.Notifications)
	assert.Zero(t, page.Unread)

	rec = do(t, h, http.MethodPost, "/api/v1/notifications/"+uuid.NewString()+"/read", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/notifications/read-all", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
