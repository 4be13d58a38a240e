package requests

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/partscan-backend/pkg/pagination"
)

const (
	FulfilledByScan      = "scan"
	FulfilledByReconcile = "reconcile"

	maxRequestedByLen = 128
	maxProductIDLen   = 64
)

// Service tracks BOM requests and their scan progress.
type Service interface {
	CreateRequest(ctx context.Context, input CreateInput) (uuid.UUID, error)
	Progress(ctx context.Context, requestID uuid.UUID) (Progress, error)
	Cancel(ctx context.Context, requestID uuid.UUID, operator string) error
	Get(ctx context.Context, requestID uuid.UUID) (*RequestDetail, error)
	List(ctx context.Context, params ListParams) (*RequestPage, error)

	Template(ctx context.Context, productID string) ([]models.BomTemplate, error)
	SetTemplate(ctx context.Context, productID string, lines []TemplateLine) ([]models.BomTemplate, error)

	// LockRequestForScanTx loads and row-locks the request. Cancelled requests
	// are rejected; a fulfilled one is returned because it has no open item
	// left and the scan then fails as NO_MATCHING_ITEM.
	LockRequestForScanTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (*models.BomRequest, error)
	FindMatchingItemTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, partID string) (*models.RequestItem, error)
	RecordScanTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, partID string) (*models.RequestItem, error)
	CompleteIfDoneTx(ctx context.Context, tx *gorm.DB, request *models.BomRequest, source string, actor *outbox.ActorRef) (bool, Progress, error)

	ListOpenComplete(ctx context.Context, limit int) ([]uuid.UUID, error)
	FulfillIfComplete(ctx context.Context, requestID uuid.UUID) (bool, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Progress is the sum of scanned and needed quantities over a request's items.
type Progress struct {
	Scanned int `json:"scanned_total"`
	Needed  int `json:"needed_total"`
}

// Complete reports whether every needed unit was scanned.
func (p Progress) Complete() bool {
	return p.Needed > 0 && p.Scanned >= p.Needed
}

type CreateInput struct {
	ProductID   string
	RequestedBy string
}

type TemplateLine struct {
	PartID    string
	QtyNeeded int
}

type RequestDetail struct {
	Request  models.BomRequest
	Progress Progress
}

type RequestSummary struct {
	Request  models.BomRequest
	Progress Progress
}

type ListParams struct {
	Pagination pagination.Params
	Status     string
}

type RequestPage struct {
	Requests   []RequestSummary
	NextCursor string
}

type ServiceParams struct {
	Repository Repository
	TxRunner   dbpkg.TxRunner
	Outbox     outboxPublisher
	Logger     *logger.Logger
}

type service struct {
	repo   Repository
	tx     dbpkg.TxRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("requests repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   params.Repository,
		tx:     params.TxRunner,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

func (s *service) CreateRequest(ctx context.Context, input CreateInput) (uuid.UUID, error) {
	productID := strings.TrimSpace(input.ProductID)
	requestedBy := strings.TrimSpace(input.RequestedBy)
	if productID == "" || len(productID) > maxProductIDLen {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if requestedBy == "" || len(requestedBy) > maxRequestedByLen {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "requested_by is required")
	}

	var created *models.BomRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		template, err := repo.TemplateFor(ctx, productID)
		if err != nil {
			return err
		}
		if len(template) == 0 {
			return pkgerrors.New(pkgerrors.CodeNoBomTemplate, fmt.Sprintf("no bill of materials for product %s", productID)).
				WithDetails(map[string]any{"product_id": productID})
		}

		request := &models.BomRequest{
			RequestID:   uuid.New(),
			ProductID:   productID,
			RequestedBy: requestedBy,
			Status:      enums.RequestStatusOpen,
			Items:       make([]models.RequestItem, 0, len(template)),
		}
		for _, line := range template {
			request.Items = append(request.Items, models.RequestItem{
				PartID:    line.PartID,
				QtyNeeded: line.QtyNeeded,
			})
		}
		if err := repo.Create(ctx, request); err != nil {
			return err
		}

		lines := make([]payloads.RequestItemLine, 0, len(request.Items))
		for _, item := range request.Items {
			lines = append(lines, payloads.RequestItemLine{ItemID: item.ID, PartID: item.PartID, QtyNeeded: item.QtyNeeded})
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestCreated,
			AggregateType: enums.AggregateBomRequest,
			AggregateID:   request.RequestID.String(),
			Actor:         &outbox.ActorRef{Operator: requestedBy},
			Data: payloads.RequestCreatedEvent{
				RequestID:   request.RequestID,
				ProductID:   productID,
				RequestedBy: requestedBy,
				Items:       lines,
			},
		}); err != nil {
			return fmt.Errorf("emit request created: %w", err)
		}
		created = request
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithBomRequestID(ctx, created.RequestID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"product_id":   created.ProductID,
			"requested_by": created.RequestedBy,
			"items":        len(created.Items),
		})
		s.logg.Info(logCtx, "bom request created")
	}
	return created.RequestID, nil
}

func (s *service) Progress(ctx context.Context, requestID uuid.UUID) (Progress, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return Progress{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load request")
	}
	if request == nil {
		return Progress{}, requestNotFound(requestID)
	}
	return s.progressOf(ctx, s.repo, requestID)
}

func (s *service) progressOf(ctx context.Context, repo Repository, requestID uuid.UUID) (Progress, error) {
	totals, err := repo.Totals(ctx, []uuid.UUID{requestID})
	if err != nil {
		return Progress{}, fmt.Errorf("sum request items: %w", err)
	}
	return totals[requestID], nil
}

func (s *service) Cancel(ctx context.Context, requestID uuid.UUID, operator string) error {
	cancelled := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cancelled = false
		repo := s.repo.WithTx(tx)
		request, err := repo.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return requestNotFound(requestID)
		}
		switch request.Status {
		case enums.RequestStatusCancelled:
			return nil
		case enums.RequestStatusFulfilled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "fulfilled requests cannot be cancelled").
				WithDetails(map[string]any{"request_id": requestID.String(), "status": request.Status})
		}

		ok, err := repo.TransitionStatus(ctx, requestID, enums.RequestStatusOpen, enums.RequestStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return dbpkg.ErrConflict
		}
		progress, err := s.progressOf(ctx, repo, requestID)
		if err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestCancelled,
			AggregateType: enums.AggregateBomRequest,
			AggregateID:   requestID.String(),
			Actor:         actorRef(operator),
			Data: payloads.RequestCancelledEvent{
				RequestID:    requestID,
				ProductID:    request.ProductID,
				ScannedTotal: progress.Scanned,
				NeededTotal:  progress.Needed,
			},
		}); err != nil {
			return fmt.Errorf("emit request cancelled: %w", err)
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled && s.logg != nil {
		logCtx := s.logg.WithBomRequestID(ctx, requestID.String())
		logCtx = s.logg.WithOperator(logCtx, operator)
		s.logg.Info(logCtx, "bom request cancelled")
	}
	return nil
}

func (s *service) Get(ctx context.Context, requestID uuid.UUID) (*RequestDetail, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load request")
	}
	if request == nil {
		return nil, requestNotFound(requestID)
	}
	items, err := s.repo.Items(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load request items")
	}
	request.Items = items

	var progress Progress
	for _, item := range items {
		progress.Scanned += item.ScannedQty
		progress.Needed += item.QtyNeeded
	}
	return &RequestDetail{Request: *request, Progress: progress}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*RequestPage, error) {
	cursor, err := pagination.Decode(params.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var status *enums.RequestStatus
	if raw := strings.TrimSpace(params.Status); raw != "" {
		parsed, err := enums.ParseRequestStatus(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		status = &parsed
	}

	rows, err := s.repo.List(ctx, cursor, status, params.Pagination.FetchSize())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list requests")
	}

	page := &RequestPage{}
	rows, last := pagination.Trim(rows, params.Pagination.PageSize())
	if last != nil {
		page.NextCursor = pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.RequestID}.Encode()
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.RequestID)
	}
	totals, err := s.repo.Totals(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum request items")
	}

	page.Requests = make([]RequestSummary, 0, len(rows))
	for _, row := range rows {
		page.Requests = append(page.Requests, RequestSummary{Request: row, Progress: totals[row.RequestID]})
	}
	return page, nil
}

func (s *service) Template(ctx context.Context, productID string) ([]models.BomTemplate, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	rows, err := s.repo.TemplateFor(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load template")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoBomTemplate, fmt.Sprintf("no bill of materials for product %s", productID))
	}
	return rows, nil
}

// SetTemplate replaces the bill of materials for a product. Every part must exist.
func (s *service) SetTemplate(ctx context.Context, productID string, lines []TemplateLine) ([]models.BomTemplate, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || len(productID) > maxProductIDLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "template needs at least one line")
	}

	rows := make([]models.BomTemplate, 0, len(lines))
	partIDs := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		partID := strings.TrimSpace(line.PartID)
		if partID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "part_id is required")
		}
		if line.QtyNeeded <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty_needed must be positive").
				WithDetails(map[string]any{"part_id": partID})
		}
		if _, dup := seen[partID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate part in template").
				WithDetails(map[string]any{"part_id": partID})
		}
		seen[partID] = struct{}{}
		partIDs = append(partIDs, partID)
		rows = append(rows, models.BomTemplate{ProductID: productID, PartID: partID, QtyNeeded: line.QtyNeeded})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		missing, err := repo.MissingParts(ctx, partIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return pkgerrors.New(pkgerrors.CodeUnknownPart, "template references unknown parts").
				WithDetails(map[string]any{"part_ids": missing})
		}
		return repo.ReplaceTemplate(ctx, productID, rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) LockRequestForScanTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (*models.BomRequest, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	request, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("lock request %s: %w", requestID, err)
	}
	if request == nil {
		return nil, requestNotFound(requestID)
	}
	if request.Status == enums.RequestStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeRequestNotOpen, fmt.Sprintf("request %s is %s", requestID, request.Status)).
			WithDetails(map[string]any{"request_id": requestID.String(), "status": request.Status})
	}
	return request, nil
}

func (s *service) FindMatchingItemTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, partID string) (*models.RequestItem, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	item, err := s.repo.WithTx(tx).FindOpenItem(ctx, requestID, partID)
	if err != nil {
		return nil, fmt.Errorf("match item: %w", err)
	}
	if item == nil {
		return nil, noMatchingItem(requestID, partID)
	}
	return item, nil
}

// RecordScanTx adds one scan to the matching item. Losing the conditional
// update to a concurrent scan returns db.ErrConflict.
func (s *service) RecordScanTx(ctx context.Context, tx *gorm.DB, requestID uuid.UUID, partID string) (*models.RequestItem, error) {
	item, err := s.FindMatchingItemTx(ctx, tx, requestID, partID)
	if err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	ok, err := repo.IncrementItem(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("increment item %d: %w", item.ID, err)
	}
	if !ok {
		return nil, dbpkg.ErrConflict
	}
	updated, err := repo.FindItemByID(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("reload item %d: %w", item.ID, err)
	}
	return updated, nil
}

// CompleteIfDoneTx marks an open request fulfilled once every item is scanned.
func (s *service) CompleteIfDoneTx(ctx context.Context, tx *gorm.DB, request *models.BomRequest, source string, actor *outbox.ActorRef) (bool, Progress, error) {
	if tx == nil {
		return false, Progress{}, fmt.Errorf("transaction required")
	}
	if request == nil {
		return false, Progress{}, fmt.Errorf("request required")
	}
	repo := s.repo.WithTx(tx)
	progress, err := s.progressOf(ctx, repo, request.RequestID)
	if err != nil {
		return false, Progress{}, err
	}
	if request.Status != enums.RequestStatusOpen || !progress.Complete() {
		return false, progress, nil
	}

	ok, err := repo.TransitionStatus(ctx, request.RequestID, enums.RequestStatusOpen, enums.RequestStatusFulfilled)
	if err != nil {
		return false, progress, fmt.Errorf("fulfill request: %w", err)
	}
	if !ok {
		return false, progress, nil
	}
	request.Status = enums.RequestStatusFulfilled

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRequestFulfilled,
		AggregateType: enums.AggregateBomRequest,
		AggregateID:   request.RequestID.String(),
		Actor:         actor,
		Data: payloads.RequestFulfilledEvent{
			RequestID:   request.RequestID,
			ProductID:   request.ProductID,
			NeededTotal: progress.Needed,
			Source:      source,
		},
	}); err != nil {
		return false, progress, fmt.Errorf("emit request fulfilled: %w", err)
	}
	return true, progress, nil
}

func (s *service) ListOpenComplete(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.repo.ListOpenComplete(ctx, limit)
}

// FulfillIfComplete re-checks one request under lock and fulfills it when done.
func (s *service) FulfillIfComplete(ctx context.Context, requestID uuid.UUID) (bool, error) {
	fulfilled := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return requestNotFound(requestID)
		}
		done, _, err := s.CompleteIfDoneTx(ctx, tx, request, FulfilledByReconcile, &outbox.ActorRef{Source: "cron"})
		if err != nil {
			return err
		}
		fulfilled = done
		return nil
	})
	return fulfilled, err
}

func requestNotFound(requestID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("request %s not found", requestID)).
		WithDetails(map[string]any{"request_id": requestID.String()})
}

func noMatchingItem(requestID uuid.UUID, partID string) error {
	return pkgerrors.New(pkgerrors.CodeNoMatchingItem, fmt.Sprintf("request %s has nothing left to scan for part %s", requestID, partID)).
		WithDetails(map[string]any{"request_id": requestID.String(), "part_id": partID})
}

func actorRef(operator string) *outbox.ActorRef {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil
	}
	return &outbox.ActorRef{Operator: operator}
}
