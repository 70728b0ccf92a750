package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/repository"
	"github.com/amifistore/cekot-sub000/pkg/idgen"

	"gorm.io/gorm"
)

var ErrInvalidTopupAmount = errors.New("topup amount must be positive")

// TopupService implements the operator-reviewed wallet credit flow: the user
// requests an amount, gets back the amount plus a random 3-digit tail that
// disambiguates their transfer, and an operator approves or rejects the
// pending request. Approval credits the wallet exactly once; the settle CAS
// absorbs double approvals.
type TopupService struct {
	db         *gorm.DB
	topupRepo  *repository.TopupRepository
	ledgerRepo *repository.LedgerRepository
	userRepo   *repository.UserRepository
	adminRepo  *repository.AdminLogRepository
}

func NewTopupService(db *gorm.DB, ids *idgen.Snowflake) *TopupService {
	return &TopupService{
		db:         db,
		topupRepo:  repository.NewTopupRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db, ids),
		userRepo:   repository.NewUserRepository(db),
		adminRepo:  repository.NewAdminLogRepository(db),
	}
}

// Request opens a pending top-up of amount plus a uniqueness tail. The tail
// is re-rolled a few times if it collides with another open request from the
// same user; a residual collision is accepted (see operator review).
func (s *TopupService) Request(ctx context.Context, chatID string, amount int64, proofRef string) (*model.TopupRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidTopupAmount
	}
	if _, err := s.userRepo.GetOrCreate(ctx, chatID, "", ""); err != nil {
		return nil, err
	}

	pending, err := s.topupRepo.PendingAmounts(ctx, chatID)
	if err != nil {
		return nil, err
	}
	open := make(map[int64]bool, len(pending))
	for _, a := range pending {
		open[a] = true
	}

	tagged := amount + int64(rand.Intn(1000))
	for attempt := 0; attempt < 5 && open[tagged]; attempt++ {
		tagged = amount + int64(rand.Intn(1000))
	}

	req := &model.TopupRequest{
		UserID:   chatID,
		Amount:   tagged,
		Status:   model.TopupStatusPending,
		ProofRef: proofRef,
	}
	if err := s.topupRepo.Create(ctx, req); err != nil {
		return nil, err
	}

	log.Printf("[Topup] request opened: id=%d user=%s amount=%d", req.ID, chatID, tagged)
	return req, nil
}

// Approve settles the request and credits the wallet in one DB transaction.
// The PENDING→APPROVED CAS is the idempotency gate: a second approval loses
// it and credits nothing.
func (s *TopupService) Approve(ctx context.Context, operatorID string, requestID int64) error {
	req, err := s.topupRepo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != model.TopupStatusPending {
		return repository.ErrTopupSettled
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.topupRepo.Settle(ctx, tx, requestID, model.TopupStatusApproved); err != nil {
			return err
		}
		description := fmt.Sprintf("topup:%d", requestID)
		if _, err := s.ledgerRepo.Credit(ctx, tx, req.UserID, req.Amount, model.TransactionKindTopup, description); err != nil {
			return err
		}
		return s.adminRepo.Create(ctx, tx, &model.AdminLog{
			OperatorID: operatorID,
			Action:     model.AdminActionTopupApprove,
			TargetRef:  description,
			Detail:     fmt.Sprintf("user=%s amount=%d", req.UserID, req.Amount),
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[Topup] approved: id=%d user=%s amount=%d operator=%s", requestID, req.UserID, req.Amount, operatorID)
	return nil
}

// Reject settles the request with no ledger effect.
func (s *TopupService) Reject(ctx context.Context, operatorID string, requestID int64) error {
	req, err := s.topupRepo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.topupRepo.Settle(ctx, tx, requestID, model.TopupStatusRejected); err != nil {
			return err
		}
		return s.adminRepo.Create(ctx, tx, &model.AdminLog{
			OperatorID: operatorID,
			Action:     model.AdminActionTopupReject,
			TargetRef:  fmt.Sprintf("topup:%d", requestID),
			Detail:     fmt.Sprintf("user=%s amount=%d", req.UserID, req.Amount),
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[Topup] rejected: id=%d user=%s operator=%s", requestID, req.UserID, operatorID)
	return nil
}

func (s *TopupService) ListPending(ctx context.Context, limit int) ([]*model.TopupRequest, error) {
	return s.topupRepo.ListByStatus(ctx, model.TopupStatusPending, limit)
}
