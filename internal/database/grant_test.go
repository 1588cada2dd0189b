package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGrantRepository_Record(t *testing.T) {
	repo := NewGrantRepository(openTestDB(t))
	ctx := context.Background()
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &models.Grant{
		Platform:       "android",
		TransactionKey: "GPA.1",
		TransactionID:  "GPA.1",
		PurchaseToken:  "tok",
		ProductIDs:     models.JoinProducts([]string{"coins"}),
		Consumable:     true,
		FinalizedAt:    when,
	}
	require.NoError(t, repo.Record(ctx, first))
	require.NotZero(t, first.ID)

	again := &models.Grant{
		Platform:       "android",
		TransactionKey: "GPA.1",
		TransactionID:  "GPA.1",
		PurchaseToken:  "tok",
		ProductIDs:     "coins",
		Consumable:     true,
		Reason:         "redelivered",
		FinalizedAt:    when.Add(time.Minute),
	}
	require.NoError(t, repo.Record(ctx, again))
	assert.Equal(t, first.ID, again.ID)

	grants, err := repo.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "redelivered", grants[0].Reason)
	assert.Equal(t, []string{"coins"}, grants[0].Products())
}

func TestGrantRepository_FindAndList(t *testing.T) {
	repo := NewGrantRepository(openTestDB(t))
	ctx := context.Background()

	for i, platform := range []string{"ios", "android", "ios"} {
		require.NoError(t, repo.Record(ctx, &models.Grant{
			Platform:       platform,
			TransactionKey: fmt.Sprintf("tx-%d", i),
		}))
	}

	grant, err := repo.Find(ctx, "ios", "tx-2")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", grant.TransactionKey)

	_, err = repo.Find(ctx, "android", "tx-2")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	ios, err := repo.List(ctx, "ios", 0)
	require.NoError(t, err)
	assert.Len(t, ios, 2)

	limited, err := repo.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "tx-2", limited[0].TransactionKey)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = OpenRedis("not-a-url")
	assert.Error(t, err)
}

func TestGrantRepository_MissIsQuiet(t *testing.T) {
	repo := NewGrantRepository(openTestDB(t))
	core, observed := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(nil) })

	_, err := repo.Find(context.Background(), "android", "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, repo.Record(context.Background(), &models.Grant{Platform: "android", TransactionKey: "GPA.9", ProductIDs: "coins"}))
	assert.Zero(t, observed.FilterLevelExact(zapcore.WarnLevel).Len(), "expected misses are not logged")
}
