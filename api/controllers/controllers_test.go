package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/partscan-backend/api/middleware"
	"github.com/angelmondragon/partscan-backend/internal/inventory"
	"github.com/angelmondragon/partscan-backend/internal/requests"
	"github.com/angelmondragon/partscan-backend/internal/scan"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func withURLParams(r *http.Request, kv ...string) *http.Request {
	rc := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rc.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

type stubParts struct {
	parts        map[string]models.Part
	history      []models.InventoryTransaction
	restockCalls []string
	restockQty   int
	restockErr   error
	created      inventory.CreatePartInput
	createErr    error
	listParams   pagination.Params
}

func (s *stubParts) ListParts(ctx context.Context, params pagination.Params) (*inventory.PartPage, error) {
	s.listParams = params
	page := &inventory.PartPage{NextCursor: "next"}
	for _, p := range s.parts {
		page.Parts = append(page.Parts, p)
	}
	return page, nil
}

func (s *stubParts) GetPart(ctx context.Context, partID string) (*models.Part, error) {
	p, ok := s.parts[partID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnknownPart, "unknown part "+partID)
	}
	return &p, nil
}

func (s *stubParts) History(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error) {
	return s.history, nil
}

func (s *stubParts) Restock(ctx context.Context, partID string, qty int, operator string) (*inventory.AdjustResult, error) {
	if s.restockErr != nil {
		return nil, s.restockErr
	}
	s.restockCalls = append(s.restockCalls, operator)
	s.restockQty = qty
	return &inventory.AdjustResult{
		PartID:      partID,
		Delta:       qty,
		NewQuantity: 10 + qty,
		Transaction: &models.InventoryTransaction{ID: 7, PartID: partID, ChangeQty: qty, Reason: inventory.ReasonRestock},
	}, nil
}

func (s *stubParts) CreatePart(ctx context.Context, input inventory.CreatePartInput) (*models.Part, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = input
	return &models.Part{PartID: input.PartID, Quantity: input.InitialQty}, nil
}

func TestPartGet(t *testing.T) {
	svc := &stubParts{parts: map[string]models.Part{"R100": {PartID: "R100", Quantity: 4}}}

	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/parts/R100", nil), "partId", "R100")
	PartGet(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var part partDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &part))
	assert.Equal(t, "R100", part.PartID)
	assert.Equal(t, 4, part.Quantity)

	rec = httptest.NewRecorder()
	req = withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/parts/X", nil), "partId", "X")
	PartGet(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeUnknownPart), decodeEnvelope(t, rec).Error.Code)
}

func TestPartsListPassesCursor(t *testing.T) {
	svc := &stubParts{parts: map[string]models.Part{"R100": {PartID: "R100"}}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/parts?limit=5&cursor=abc", nil)
	PartsList(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.listParams.Limit)
	assert.Equal(t, "abc", svc.listParams.Cursor)

	var page partPageDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &page))
	assert.Len(t, page.Parts, 1)
	assert.Equal(t, "next", page.NextCursor)
}

func TestPartsListRejectsBadLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/parts?limit=1000", nil)
	PartsList(&stubParts{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPartTransactions(t *testing.T) {
	svc := &stubParts{history: []models.InventoryTransaction{{ID: 2, PartID: "R100", ChangeQty: -1, Reason: "Request x scan"}}}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/parts/R100/transactions", nil), "partId", "R100")
	PartTransactions(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		PartID       string           `json:"part_id"`
		Transactions []transactionDTO `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	require.Len(t, body.Transactions, 1)
	assert.Equal(t, -1, body.Transactions[0].ChangeQty)
}

func TestPartRestock(t *testing.T) {
	svc := &stubParts{}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/api/v1/parts/R100/restock", strings.NewReader(`{"qty":5}`)), "partId", "R100")
	req = req.WithContext(middleware.WithOperator(req.Context(), "alice"))
	PartRestock(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alice"}, svc.restockCalls)
	assert.Equal(t, 5, svc.restockQty)

	var adj adjustmentDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &adj))
	assert.Equal(t, 15, adj.NewQuantity)
	assert.Equal(t, int64(7), adj.TransactionID)
}

func TestPartRestockRejectsNonPositive(t *testing.T) {
	svc := &stubParts{}
	for _, body := range []string{`{"qty":0}`, `{"qty":-2}`, `{}`} {
		rec := httptest.NewRecorder()
		req := withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "partId", "R100")
		PartRestock(svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, svc.restockCalls)
}

func TestPartRestockRejectsOversizedQty(t *testing.T) {
	svc := &stubParts{}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":2147483648}`)), "partId", "R100")
	PartRestock(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.restockCalls)
}

func TestPartCreate(t *testing.T) {
	svc := &stubParts{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/parts", strings.NewReader(`{"part_id":"C200","initial_qty":3}`))
	PartCreate(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "C200", svc.created.PartID)
	assert.Equal(t, 3, svc.created.InitialQty)

	svc.createErr = pkgerrors.New(pkgerrors.CodeConflict, "part exists")
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/parts", strings.NewReader(`{"part_id":"C200"}`))
	PartCreate(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type stubTemplates struct {
	rows     []models.BomTemplate
	setLines []requests.TemplateLine
	setErr   error
}

func (s *stubTemplates) Template(ctx context.Context, productID string) ([]models.BomTemplate, error) {
	return s.rows, nil
}

func (s *stubTemplates) SetTemplate(ctx context.Context, productID string, lines []requests.TemplateLine) ([]models.BomTemplate, error) {
	if s.setErr != nil {
		return nil, s.setErr
	}
	s.setLines = lines
	out := make([]models.BomTemplate, 0, len(lines))
	for _, l := range lines {
		out = append(out, models.BomTemplate{ProductID: productID, PartID: l.PartID, QtyNeeded: l.QtyNeeded})
	}
	return out, nil
}

func TestProductTemplatePut(t *testing.T) {
	svc := &stubTemplates{}
	body := `{"lines":[{"part_id":"R100","qty_needed":2},{"part_id":"C200","qty_needed":1}]}`
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodPut, "/api/v1/products/P1/bom", strings.NewReader(body)), "productId", "P1")
	ProductTemplatePut(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.setLines, 2)

	var tmpl templateDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &tmpl))
	assert.Equal(t, "P1", tmpl.ProductID)
	assert.Len(t, tmpl.Lines, 2)
}

func TestProductTemplatePutValidation(t *testing.T) {
	svc := &stubTemplates{}
	for _, body := range []string{`{"lines":[]}`, `{"lines":[{"part_id":"R100","qty_needed":0}]}`, `{"lines":[{"qty_needed":1}]}`} {
		rec := httptest.NewRecorder()
		req := withURLParams(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body)), "productId", "P1")
		ProductTemplatePut(svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Nil(t, svc.setLines)
}

func TestProductTemplateGet(t *testing.T) {
	svc := &stubTemplates{rows: []models.BomTemplate{{ProductID: "P1", PartID: "R100", QtyNeeded: 2}}}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/products/P1/bom", nil), "productId", "P1")
	ProductTemplateGet(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tmpl templateDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &tmpl))
	require.Len(t, tmpl.Lines, 1)
	assert.Equal(t, 2, tmpl.Lines[0].QtyNeeded)
}

type stubRequests struct {
	createID     uuid.UUID
	createErr    error
	created      requests.CreateInput
	progress     requests.Progress
	cancelErr    error
	cancelledBy  string
	detail       *requests.RequestDetail
	listParams   requests.ListParams
	listResponse *requests.RequestPage
}

func (s *stubRequests) CreateRequest(ctx context.Context, input requests.CreateInput) (uuid.UUID, error) {
	s.created = input
	return s.createID, s.createErr
}

func (s *stubRequests) Progress(ctx context.Context, requestID uuid.UUID) (requests.Progress, error) {
	return s.progress, nil
}

func (s *stubRequests) Cancel(ctx context.Context, requestID uuid.UUID, operator string) error {
	s.cancelledBy = operator
	return s.cancelErr
}

func (s *stubRequests) Get(ctx context.Context, requestID uuid.UUID) (*requests.RequestDetail, error) {
	if s.detail == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	return s.detail, nil
}

func (s *stubRequests) List(ctx context.Context, params requests.ListParams) (*requests.RequestPage, error) {
	s.listParams = params
	if s.listResponse == nil {
		return &requests.RequestPage{}, nil
	}
	return s.listResponse, nil
}

func TestRequestCreate(t *testing.T) {
	id := uuid.New()
	svc := &stubRequests{createID: id}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{"product_id":"P1","requested_by":"bob"}`))
	RequestCreate(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "P1", svc.created.ProductID)

	var body struct {
		RequestID uuid.UUID `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Equal(t, id, body.RequestID)
}

func TestRequestCreateNoTemplate(t *testing.T) {
	svc := &stubRequests{createErr: pkgerrors.New(pkgerrors.CodeNoBomTemplate, "no bom template for product P9")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{"product_id":"P9","requested_by":"bob"}`))
	RequestCreate(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeNoBomTemplate), decodeEnvelope(t, rec).Error.Code)
}

func TestRequestProgress(t *testing.T) {
	id := uuid.New()
	svc := &stubRequests{progress: requests.Progress{Scanned: 2, Needed: 5}}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "requestId", id.String())
	RequestProgress(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.EqualValues(t, 2, body["scanned_total"])
	assert.EqualValues(t, 5, body["needed_total"])
}

func TestRequestProgressBadID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "requestId", "nope")
	RequestProgress(&stubRequests{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestGet(t *testing.T) {
	id := uuid.New()
	svc := &stubRequests{detail: &requests.RequestDetail{
		Request: models.BomRequest{
			RequestID: id,
			ProductID: "P1",
			Status:    enums.RequestStatusOpen,
			Items:     []models.RequestItem{{ID: 1, RequestID: id, PartID: "R100", QtyNeeded: 3, ScannedQty: 1}},
		},
		Progress: requests.Progress{Scanned: 1, Needed: 3},
	}}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), "requestId", id.String())
	RequestGet(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto requestDTO
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &dto))
	assert.Equal(t, id, dto.RequestID)
	require.Len(t, dto.Items, 1)
	assert.Equal(t, 2, dto.Items[0].Remaining)

	rec = httptest.NewRecorder()
	RequestGet(&stubRequests{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestListFilters(t *testing.T) {
	svc := &stubRequests{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests?status=OPEN&limit=10", nil)
	RequestList(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", svc.listParams.Status)
	assert.Equal(t, 10, svc.listParams.Pagination.Limit)
}

func TestRequestCancel(t *testing.T) {
	id := uuid.New()
	svc := &stubRequests{}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), "requestId", id.String())
	req = req.WithContext(middleware.WithOperator(req.Context(), "carol"))
	RequestCancel(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", svc.cancelledBy)

	svc.cancelErr = pkgerrors.New(pkgerrors.CodeStateConflict, "request already fulfilled")
	rec = httptest.NewRecorder()
	RequestCancel(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

type stubScanner struct {
	input  scan.Input
	result *scan.Result
	err    error
}

func (s *stubScanner) Scan(ctx context.Context, input scan.Input) (*scan.Result, error) {
	s.input = input
	return s.result, s.err
}

func TestRequestScan(t *testing.T) {
	id := uuid.New()
	svc := &stubScanner{result: &scan.Result{RequestID: id, PartID: "R100", ScannedQty: 1, QtyNeeded: 2, Remaining: 1}}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"part_id":"R100"}`)), "requestId", id.String())
	req = req.WithContext(middleware.WithOperator(req.Context(), "dave"))
	RequestScan(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, svc.input.RequestID)
	assert.Equal(t, "R100", svc.input.PartID)
	assert.Equal(t, "dave", svc.input.Operator)

	var result scan.Result
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, 1, result.Remaining)
}

func TestRequestScanErrors(t *testing.T) {
	cases := []struct {
		code   pkgerrors.Code
		status int
	}{
		{pkgerrors.CodeUnknownPart, http.StatusNotFound},
		{pkgerrors.CodeNoMatchingItem, http.StatusUnprocessableEntity},
		{pkgerrors.CodeInsufficientStock, http.StatusConflict},
		{pkgerrors.CodeRequestNotOpen, http.StatusConflict},
		{pkgerrors.CodeStoreUnavailable, http.StatusServiceUnavailable},
	}
	id := uuid.New()
	for _, tc := range cases {
		svc := &stubScanner{err: pkgerrors.New(tc.code, "rejected")}
		rec := httptest.NewRecorder()
		req := withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"part_id":"R100"}`)), "requestId", id.String())
		RequestScan(svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, string(tc.code))
		assert.Equal(t, string(tc.code), decodeEnvelope(t, rec).Error.Code)
	}
}

func TestRequestScanRequiresPartID(t *testing.T) {
	svc := &stubScanner{}
	rec := httptest.NewRecorder()
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), "requestId", uuid.NewString())
	RequestScan(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uuid.Nil, svc.input.RequestID)
}
