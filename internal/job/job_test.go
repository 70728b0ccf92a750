package job

import (
	"context"
	"fmt"
	"testing"

	"github.com/amifistore/cekot-sub000/internal/infrastructure/database"
	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, ref, status string) *model.Order {
	t.Helper()
	order := &model.Order{
		ProviderRef:   ref,
		UserID:        "u1",
		ProductCode:   "DATA5GB",
		ProductName:   "Data 5GB",
		Price:         7500,
		CustomerInput: "081234567890",
		Status:        status,
	}
	require.NoError(t, repository.NewOrderRepository(db).Create(context.Background(), nil, order))
	return order
}
