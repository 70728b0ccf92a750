package repository

import (
	"fmt"
	"testing"

	"github.com/amifistore/cekot-sub000/internal/infrastructure/database"
	"github.com/amifistore/cekot-sub000/pkg/idgen"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Per-test in-memory database so tests cannot interfere with each other.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestIDs(t *testing.T) *idgen.Snowflake {
	t.Helper()
	ids, err := idgen.New(1)
	require.NoError(t, err)
	return ids
}
