package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/partscan-backend/internal/dbtest"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/ledger"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/metrics"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
)

type harness struct {
	client      *db.Client
	coordinator *Coordinator
	inventory   inventory.Service
	requests    requests.Service
	ledger      ledger.Service
	registry    *prometheus.Registry
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client := dbtest.Open(t)
	runner := dbtest.Runner(client)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)

	registry := prometheus.NewRegistry()

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(client.DB()),
		Ledger:     ledgerSvc,
		TxRunner:   runner,
		Outbox:     emitter,
		Metrics:    metrics.NewInventoryMetrics(registry),
	})
	require.NoError(t, err)
	requestSvc, err := requests.NewService(requests.ServiceParams{
		Repository: requests.NewRepository(client.DB()),
		TxRunner:   runner,
		Outbox:     emitter,
	})
	require.NoError(t, err)
	coordinator, err := NewCoordinator(CoordinatorParams{
		TxRunner:  runner,
		Inventory: inventorySvc,
		Requests:  requestSvc,
		Outbox:    emitter,
		Metrics:   metrics.NewScanMetrics(registry),
	})
	require.NoError(t, err)

	return harness{client: client, coordinator: coordinator, inventory: inventorySvc, requests: requestSvc, ledger: ledgerSvc, registry: registry}
}

// setup seeds parts and a product template and opens one request for it.
func (h harness) setup(t *testing.T, stock map[string]int, template []requests.TemplateLine) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	for partID, qty := range stock {
		_, err := h.inventory.CreatePart(ctx, inventory.CreatePartInput{PartID: partID, InitialQty: qty})
		require.NoError(t, err)
	}
	_, err := h.requests.SetTemplate(ctx, "BOARD-1", template)
	require.NoError(t, err)
	requestID, err := h.requests.CreateRequest(ctx, requests.CreateInput{ProductID: "BOARD-1", RequestedBy: "alice"})
	require.NoError(t, err)
	return requestID
}

func (h harness) quantity(t *testing.T, partID string) int {
	t.Helper()
	part, err := h.inventory.GetPart(context.Background(), partID)
	require.NoError(t, err)
	return part.Quantity
}

func (h harness) scanTransactions(t *testing.T, partID string) []models.InventoryTransaction {
	t.Helper()
	var rows []models.InventoryTransaction
	require.NoError(t, h.client.DB().
		Where("part_id = ? AND request_id IS NOT NULL", partID).
		Order("id ASC").
		Find(&rows).Error)
	return rows
}

func (h harness) snapshot(t *testing.T, requestID uuid.UUID) (map[string]int, int64, requests.Progress) {
	t.Helper()
	var parts []models.Part
	require.NoError(t, h.client.DB().Find(&parts).Error)
	quantities := map[string]int{}
	for _, p := range parts {
		quantities[p.PartID] = p.Quantity
	}
	var txCount int64
	require.NoError(t, h.client.DB().Model(&models.InventoryTransaction{}).Count(&txCount).Error)
	progress, err := h.requests.Progress(context.Background(), requestID)
	require.NoError(t, err)
	return quantities, txCount, progress
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(CoordinatorParams{})
	assert.Error(t, err)
}

func TestScanAccepted(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"R100": 3, "C200": 1}, []requests.TemplateLine{
		{PartID: "R100", QtyNeeded: 2},
		{PartID: "C200", QtyNeeded: 1},
	})

	res, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100", Operator: "op-7"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ScannedQty)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 2, res.PartQuantity)
	assert.Equal(t, enums.RequestStatusOpen, res.RequestStatus)
	assert.Equal(t, requests.Progress{Scanned: 1, Needed: 3}, res.Progress)

	assert.Equal(t, 2, h.quantity(t, "R100"))
	rows := h.scanTransactions(t, "R100")
	require.Len(t, rows, 1)
	assert.Equal(t, -1, rows[0].ChangeQty)
	assert.Equal(t, Reason(requestID), rows[0].Reason)
	require.NotNil(t, rows[0].RequestID)
	assert.Equal(t, requestID, *rows[0].RequestID)
	assert.Equal(t, res.TransactionID, rows[0].ID)
}

func TestScanCompletesRequest(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"R100": 5}, []requests.TemplateLine{{PartID: "R100", QtyNeeded: 2}})

	_, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
	require.NoError(t, err)
	res, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusFulfilled, res.RequestStatus)
	assert.Equal(t, 0, res.Remaining)

	_, err = h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNoMatchingItem), "got %v", err)
	assert.Equal(t, 3, h.quantity(t, "R100"))
}

func TestScanOfSatisfiedItemHasNoEffects(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"P1": 5}, []requests.TemplateLine{{PartID: "P1", QtyNeeded: 1}})

	res, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "P1"})
	require.NoError(t, err)
	require.Equal(t, enums.RequestStatusFulfilled, res.RequestStatus)
	stock, txCount, progress := h.snapshot(t, requestID)

	_, err = h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "P1"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNoMatchingItem), "got %v", err)

	afterStock, afterCount, afterProgress := h.snapshot(t, requestID)
	assert.Equal(t, stock, afterStock)
	assert.Equal(t, txCount, afterCount)
	assert.Equal(t, progress, afterProgress)
	assert.Equal(t, 4, afterStock["P1"])
}

func TestScanRejectionsLeaveNoWrites(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"R100": 4, "C200": 0, "L300": 9}, []requests.TemplateLine{
		{PartID: "R100", QtyNeeded: 1},
		{PartID: "C200", QtyNeeded: 1},
		{PartID: "L300", QtyNeeded: 3},
	})
	_, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input Input
		code  pkgerrors.Code
	}{
		{name: "unknown part", input: Input{RequestID: requestID, PartID: "X999"}, code: pkgerrors.CodeUnknownPart},
		{name: "unknown part beats unknown request", input: Input{RequestID: uuid.New(), PartID: "X999"}, code: pkgerrors.CodeUnknownPart},
		{name: "unknown request", input: Input{RequestID: uuid.New(), PartID: "R100"}, code: pkgerrors.CodeNotFound},
		{name: "item already satisfied", input: Input{RequestID: requestID, PartID: "R100"}, code: pkgerrors.CodeNoMatchingItem},
		{name: "out of stock", input: Input{RequestID: requestID, PartID: "C200"}, code: pkgerrors.CodeInsufficientStock},
		{name: "missing part id", input: Input{RequestID: requestID, PartID: "  "}, code: pkgerrors.CodeValidation},
		{name: "missing request id", input: Input{PartID: "R100"}, code: pkgerrors.CodeValidation},
	}

	before, beforeTx, beforeProgress := h.snapshot(t, requestID)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.coordinator.Scan(context.Background(), tc.input)
			assert.Nil(t, res)
			assert.True(t, pkgerrors.Is(err, tc.code), "got %v", err)

			after, afterTx, afterProgress := h.snapshot(t, requestID)
			assert.Equal(t, before, after)
			assert.Equal(t, beforeTx, afterTx)
			assert.Equal(t, beforeProgress, afterProgress)
		})
	}
}

func TestScanInsufficientStockScenario(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"P1": 1}, []requests.TemplateLine{{PartID: "P1", QtyNeeded: 2}})

	res, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.PartQuantity)
	assert.Equal(t, 0, h.quantity(t, "P1"))
	require.Len(t, h.scanTransactions(t, "P1"), 1)

	_, err = h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "P1"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	assert.Equal(t, 0, h.quantity(t, "P1"))
	assert.Len(t, h.scanTransactions(t, "P1"), 1)

	progress, err := h.requests.Progress(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, requests.Progress{Scanned: 1, Needed: 2}, progress)

	// restock unblocks the remaining scan
	restocked, err := h.inventory.Restock(context.Background(), "P1", 5, "")
	require.NoError(t, err)
	assert.Equal(t, 5, restocked.NewQuantity)
	_, err = h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 4, h.quantity(t, "P1"))
}

func TestScanAfterCancelIsRejected(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"R100": 2}, []requests.TemplateLine{{PartID: "R100", QtyNeeded: 2}})
	require.NoError(t, h.requests.Cancel(context.Background(), requestID, "bob"))

	_, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeRequestNotOpen), "got %v", err)
	assert.Equal(t, 2, h.quantity(t, "R100"))
}

func TestSequentialScansKeepQuantityConsistent(t *testing.T) {
	h := newHarness(t)
	const initial = 4
	requestID := h.setup(t, map[string]int{"R100": initial}, []requests.TemplateLine{{PartID: "R100", QtyNeeded: 6}})

	accepted := 0
	for i := 0; i < 8; i++ {
		_, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
		if err == nil {
			accepted++
			continue
		}
		require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	}

	assert.Equal(t, initial, accepted)
	assert.Equal(t, initial-accepted, h.quantity(t, "R100"))
	assert.Len(t, h.scanTransactions(t, "R100"), accepted)

	var item models.RequestItem
	require.NoError(t, h.client.DB().Where("request_id = ?", requestID).First(&item).Error)
	assert.Equal(t, accepted, item.ScannedQty)
	assert.LessOrEqual(t, item.ScannedQty, item.QtyNeeded)
}

func TestScanCountsCommittedAdjustments(t *testing.T) {
	h := newHarness(t)
	requestID := h.setup(t, map[string]int{"R100": 2}, []requests.TemplateLine{{PartID: "R100", QtyNeeded: 3}})

	for i := 0; i < 3; i++ {
		_, _ = h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
	}

	expected := `
# HELP inventory_adjustments_total Committed inventory adjustments by direction, including scans and initial stock.
# TYPE inventory_adjustments_total counter
inventory_adjustments_total{direction="in"} 1
inventory_adjustments_total{direction="out"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "inventory_adjustments_total"))
}

// SQLite serializes writers (db.New caps its pool at one connection), so these
// tests pin the outcome rather than the interleaving. On Postgres the same
// guarantee comes from the conditional UPDATEs: ApplyDelta only matches while
// quantity + delta >= 0 and RecordScanTx only while scanned_qty < qty_needed,
// with the request row locked FOR UPDATE for the whole transaction.
func TestConcurrentScansNoLostUpdates(t *testing.T) {
	h := newHarness(t)
	const n = 12
	requestID := h.setup(t, map[string]int{"R100": n}, []requests.TemplateLine{{PartID: "R100", QtyNeeded: n}})

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 0, h.quantity(t, "R100"))
	assert.Len(t, h.scanTransactions(t, "R100"), n)
	progress, err := h.requests.Progress(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, requests.Progress{Scanned: n, Needed: n}, progress)
}

func TestConcurrentScansBeyondStock(t *testing.T) {
	h := newHarness(t)
	const stock, scans = 5, 9
	requestID := h.setup(t, map[string]int{"R100": stock}, []requests.TemplateLine{{PartID: "R100", QtyNeeded: scans}})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		short    int
	)
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coordinator.Scan(context.Background(), Input{RequestID: requestID, PartID: "R100"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case pkgerrors.Is(err, pkgerrors.CodeInsufficientStock):
				short++
			default:
				t.Errorf("unexpected scan error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, accepted)
	assert.Equal(t, scans-stock, short)
	assert.Equal(t, 0, h.quantity(t, "R100"))
	assert.Len(t, h.scanTransactions(t, "R100"), stock)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{err: nil, want: OutcomeAccepted},
		{err: pkgerrors.New(pkgerrors.CodeUnknownPart, "x"), want: OutcomeUnknownPart},
		{err: pkgerrors.New(pkgerrors.CodeNoMatchingItem, "x"), want: OutcomeNoMatchingItem},
		{err: pkgerrors.New(pkgerrors.CodeInsufficientStock, "x"), want: OutcomeInsufficientStock},
		{err: pkgerrors.New(pkgerrors.CodeRequestNotOpen, "x"), want: OutcomeRequestNotOpen},
		{err: pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, db.ErrConflict, "x"), want: OutcomeStoreUnavailable},
		{err: context.Canceled, want: OutcomeCanceled},
		{err: errors.New("boom"), want: OutcomeError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, OutcomeOf(tc.err), "err %v", tc.err)
	}
}
