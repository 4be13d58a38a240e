package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/angelmondragon/partscan-backend/internal/dbtest"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/partscan-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeRepository struct {
	appendFn func(ctx context.Context, txn *models.InventoryTransaction) error
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Append(ctx context.Context, txn *models.InventoryTransaction) error {
	if f.appendFn != nil {
		return f.appendFn(ctx, txn)
	}
	return nil
}

func (f *fakeRepository) ListByPart(ctx context.Context, partID string, limit int) ([]models.InventoryTransaction, error) {
	return nil, nil
}

func (f *fakeRepository) CountByPart(ctx context.Context, partID string) (int64, error) {
	return 0, nil
}

func (f *fakeRepository) SumByPart(ctx context.Context, partID string) (int64, error) {
	return 0, nil
}

func TestService_Record(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	requestID := uuid.New()
	var created *models.InventoryTransaction
	repo.appendFn = func(ctx context.Context, txn *models.InventoryTransaction) error {
		created = txn
		return nil
	}

	got, err := svc.Record(context.Background(), &gorm.DB{}, RecordInput{
		PartID:    " R100 ",
		ChangeQty: -1,
		Reason:    "Request scan",
		RequestID: &requestID,
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if created == nil {
		t.Fatal("expected transaction to be appended")
	}
	if created.PartID != "R100" || created.ChangeQty != -1 || created.Reason != "Request scan" {
		t.Fatalf("unexpected transaction data: %+v", created)
	}
	if created.RequestID == nil || *created.RequestID != requestID {
		t.Fatalf("missing request reference: %+v", created)
	}
	if got != created {
		t.Fatalf("service should return appended transaction")
	}
}

func TestService_RecordValidation(t *testing.T) {
	svc, err := NewService(&fakeRepository{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	tests := []struct {
		name  string
		input RecordInput
	}{
		{name: "missing part", input: RecordInput{ChangeQty: 1, Reason: "Restock"}},
		{name: "zero change", input: RecordInput{PartID: "R100", Reason: "Restock"}},
		{name: "missing reason", input: RecordInput{PartID: "R100", ChangeQty: 1, Reason: "  "}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Record(context.Background(), &gorm.DB{}, tc.input)
			if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error for %s, got %v", tc.name, err)
			}
		})
	}

	if _, err := svc.Record(context.Background(), nil, RecordInput{PartID: "R100", ChangeQty: 1, Reason: "Restock"}); err == nil {
		t.Fatal("expected missing transaction to fail")
	}
}

func TestService_RecordTruncatesReasonOnRuneBoundary(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	var created *models.InventoryTransaction
	repo.appendFn = func(ctx context.Context, txn *models.InventoryTransaction) error {
		created = txn
		return nil
	}

	// "é" is two bytes, so byte 255 lands mid-rune
	reason := strings.Repeat("é", 200)
	if _, err := svc.Record(context.Background(), &gorm.DB{}, RecordInput{PartID: "R100", ChangeQty: 1, Reason: reason}); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if !utf8.ValidString(created.Reason) {
		t.Fatalf("reason is not valid utf-8: %q", created.Reason)
	}
	if len(created.Reason) != maxReasonLen-1 {
		t.Fatalf("expected %d bytes, got %d", maxReasonLen-1, len(created.Reason))
	}
	if !strings.HasPrefix(reason, created.Reason) {
		t.Fatalf("truncated reason is not a prefix of the input")
	}
	if got := truncateReason("Restock"); got != "Restock" {
		t.Fatalf("short reason changed: %q", got)
	}
}

func TestService_RecordRepoError(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	expectedErr := errors.New("boom")
	repo.appendFn = func(ctx context.Context, txn *models.InventoryTransaction) error {
		return expectedErr
	}

	if _, err := svc.Record(context.Background(), &gorm.DB{}, RecordInput{PartID: "R100", ChangeQty: 2, Reason: "Restock"}); !errors.Is(err, expectedErr) {
		t.Fatalf("expected repo error to bubble up, got %v", err)
	}
}

func TestRepository_AppendListAndSum(t *testing.T) {
	client := dbtest.Open(t)
	ctx := context.Background()
	if err := client.DB().Create(&models.Part{PartID: "R100", Quantity: 4}).Error; err != nil {
		t.Fatalf("seed part: %v", err)
	}

	svc, err := NewService(NewRepository(client.DB()))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, delta := range []int{5, -1} {
			if _, err := svc.Record(ctx, tx, RecordInput{PartID: "R100", ChangeQty: delta, Reason: "seed"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	history, err := svc.History(ctx, "R100", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].ChangeQty != -1 || history[1].ChangeQty != 5 {
		t.Fatalf("expected newest first, got %+v", history)
	}

	balance, err := svc.Balance(ctx, "R100")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 4 {
		t.Fatalf("expected balance 4, got %d", balance)
	}

	count, err := NewRepository(client.DB()).CountByPart(ctx, "R100")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}
