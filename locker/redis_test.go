package locker_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/store"
	"github.com/warp/pos-ledger/locker"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedis_SecondHolderTimesOut(t *testing.T) {
	// GIVEN: A key held by one caller
	// WHEN: A second caller tries with a short wait
	// THEN: ErrLockNotObtained; after release the key can be taken again

	rdb := newTestRedis(t)
	lk := locker.NewRedis(rdb, locker.WithWait(50*time.Millisecond), locker.WithBackoff(10*time.Millisecond))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lk.Lock(ctx, key)
	require.NoError(t, err)

	_, err = lk.Lock(ctx, key)
	assert.ErrorIs(t, err, ledger.ErrLockNotObtained)
	assert.True(t, ledger.IsRetryable(err))

	unlock()
	again, err := lk.Lock(ctx, key)
	require.NoError(t, err)
	again()
}

func TestRedis_SerializesLedgerAcrossInstances(t *testing.T) {
	// GIVEN: Two ledgers sharing a store and a Redis locker, 1 unit in stock
	// WHEN: Each instance sells the unit concurrently, several times
	// THEN: Exactly one sale succeeds

	rdb := newTestRedis(t)
	mem := store.NewMemory()
	lk := locker.NewRedis(rdb)
	a := inventory.New(ledger.New(mem, ledger.WithLocker(lk)))
	b := inventory.New(ledger.New(mem, ledger.WithLocker(lk)))
	ctx := context.Background()

	acct, err := a.Stock(ctx, inventory.StockInput{ProductID: "p-" + uuid.NewString()})
	require.NoError(t, err)
	_, err = a.Move(ctx, inventory.Movement{ItemID: acct.ID, Kind: inventory.KindInbound, Quantity: decimal.NewFromInt(1), Actor: "t"})
	require.NoError(t, err)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		inv := a
		if i%2 == 1 {
			inv = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := inv.Move(ctx, inventory.Movement{ItemID: acct.ID, Kind: inventory.KindSale, Quantity: decimal.NewFromInt(1), Actor: "t"}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}
