package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cacheSnapshot(connectionID int64) *SchemaSnapshot {
	return &SchemaSnapshot{
		ConnectionID: connectionID,
		DatabaseName: "shop",
		CapturedAt:   time.Now().UTC(),
		Tables: []Table{
			{Name: "orders", EstimatedRows: 100, Columns: []Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
				{Name: "amount", DeclaredType: "numeric"},
			}},
			{Name: "customers", EstimatedRows: 10, Columns: []Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
			}},
		},
	}
}

func TestSchemaCache_StoreAndGet(t *testing.T) {
	cache := NewSchemaCache(zap.NewNop())
	snapshot := cacheSnapshot(1)

	cache.Store(snapshot)

	got, hit := cache.Get(1, time.Minute)
	require.True(t, hit)
	// 返回的是同一份快照，表与列顺序不变
	assert.Same(t, snapshot, got)
	assert.Equal(t, "orders", got.Tables[0].Name)
	assert.Equal(t, "customers", got.Tables[1].Name)
}

func TestSchemaCache_MissSemantics(t *testing.T) {
	cache := NewSchemaCache(zap.NewNop())

	t.Run("未缓存时未命中", func(t *testing.T) {
		_, hit := cache.Get(99, time.Minute)
		assert.False(t, hit)
	})

	t.Run("过期后未命中", func(t *testing.T) {
		cache.Store(cacheSnapshot(2))
		time.Sleep(10 * time.Millisecond)

		_, hit := cache.Get(2, time.Nanosecond)
		assert.False(t, hit)
	})

	t.Run("过期不会自动刷新", func(t *testing.T) {
		// 未命中后再用宽松的maxAge读取，旧快照仍在，说明没有被静默替换
		got, hit := cache.Get(2, time.Minute)
		require.True(t, hit)
		assert.Equal(t, int64(2), got.ConnectionID)
	})
}

func TestSchemaCache_StoreReplacesWholesale(t *testing.T) {
	cache := NewSchemaCache(zap.NewNop())

	first := cacheSnapshot(1)
	cache.Store(first)

	second := cacheSnapshot(1)
	second.Tables = second.Tables[:1]
	cache.Store(second)

	got, hit := cache.Get(1, time.Minute)
	require.True(t, hit)
	assert.Same(t, second, got)
	assert.Len(t, got.Tables, 1)
	// 旧快照未被原地修改
	assert.Len(t, first.Tables, 2)
}

func TestSchemaCache_Invalidate(t *testing.T) {
	cache := NewSchemaCache(zap.NewNop())
	cache.Store(cacheSnapshot(1))

	cache.Invalidate(1)

	_, hit := cache.Get(1, time.Minute)
	assert.False(t, hit)
}

func TestSchemaSnapshot_Validate(t *testing.T) {
	t.Run("合法快照", func(t *testing.T) {
		assert.NoError(t, cacheSnapshot(1).Validate())
	})

	t.Run("重复表名", func(t *testing.T) {
		snapshot := cacheSnapshot(1)
		snapshot.Tables = append(snapshot.Tables, Table{Name: "ORDERS"})
		assert.Error(t, snapshot.Validate())
	})

	t.Run("重复列名", func(t *testing.T) {
		snapshot := cacheSnapshot(1)
		snapshot.Tables[0].Columns = append(snapshot.Tables[0].Columns, Column{Name: "ID"})
		assert.Error(t, snapshot.Validate())
	})
}
