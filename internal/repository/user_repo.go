package repository

import (
	"context"
	"errors"

	"github.com/amifistore/cekot-sub000/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByChatID(ctx context.Context, chatID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetOrCreate registers a user on first interaction. Users are never
// destroyed.
func (r *UserRepository) GetOrCreate(ctx context.Context, chatID, username, fullName string) (*model.User, error) {
	user, err := r.GetByChatID(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	newUser := &model.User{
		ChatID:   chatID,
		Username: username,
		FullName: fullName,
		Balance:  0,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoNothing: true,
		}).
		Create(newUser).Error
	if err != nil {
		return nil, err
	}

	return r.GetByChatID(ctx, chatID)
}
