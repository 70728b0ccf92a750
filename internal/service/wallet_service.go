package service

import (
	"context"

	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/repository"
	"github.com/amifistore/cekot-sub000/pkg/idgen"

	"gorm.io/gorm"
)

// WalletService is the read surface over the ledger plus the operator
// adjustment path.
type WalletService struct {
	db         *gorm.DB
	ledgerRepo *repository.LedgerRepository
	userRepo   *repository.UserRepository
	adminRepo  *repository.AdminLogRepository
}

func NewWalletService(db *gorm.DB, ids *idgen.Snowflake) *WalletService {
	return &WalletService{
		db:         db,
		ledgerRepo: repository.NewLedgerRepository(db, ids),
		userRepo:   repository.NewUserRepository(db),
		adminRepo:  repository.NewAdminLogRepository(db),
	}
}

// Register bootstraps a user on first interaction and returns the account.
func (s *WalletService) Register(ctx context.Context, chatID, username, fullName string) (*model.User, error) {
	return s.userRepo.GetOrCreate(ctx, chatID, username, fullName)
}

func (s *WalletService) Balance(ctx context.Context, chatID string) (int64, error) {
	return s.ledgerRepo.Balance(ctx, chatID)
}

func (s *WalletService) History(ctx context.Context, chatID string, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.ledgerRepo.ListByUser(ctx, chatID, page, pageSize)
}

// Adjust applies a manual operator correction. Positive credits, negative
// debits (which still requires the balance to cover it).
func (s *WalletService) Adjust(ctx context.Context, operatorID, chatID string, amount int64, reason string) error {
	user, err := s.userRepo.GetByChatID(ctx, chatID)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if amount >= 0 {
			if _, err := s.ledgerRepo.Credit(ctx, tx, chatID, amount, model.TransactionKindAdjustment, reason); err != nil {
				return err
			}
		} else {
			if _, err := s.ledgerRepo.Debit(ctx, tx, user, -amount, model.TransactionKindAdjustment, reason); err != nil {
				return err
			}
		}
		return s.adminRepo.Create(ctx, tx, &model.AdminLog{
			OperatorID: operatorID,
			Action:     model.AdminActionAdjustment,
			TargetRef:  chatID,
			Detail:     reason,
		})
	})
}
