package value

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"killbase"
)

type fakePriceSource struct {
	mu sync.Mutex

	prices       map[int32]float64
	customPrices map[int32]float64
	reprocessing map[int32]float64
	shipGroups   map[int32]int32

	pricesErr error

	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func (f *fakePriceSource) Prices(ctx context.Context, typeIDs []int32, date time.Time, regionID int32) (map[int32]float64, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if current > f.maxInFlight {
		f.maxInFlight = current
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.pricesErr != nil {
		return nil, f.pricesErr
	}

	resolved := map[int32]float64{}
	for _, typeID := range typeIDs {
		if price, ok := f.prices[typeID]; ok {
			resolved[typeID] = price
		}
	}
	return resolved, nil
}

func (f *fakePriceSource) CustomPrice(ctx context.Context, typeID int32, date time.Time) (float64, bool, error) {
	price, ok := f.customPrices[typeID]
	return price, ok, nil
}

func (f *fakePriceSource) ReprocessingValue(ctx context.Context, typeID int32, date time.Time, regionID int32) (float64, error) {
	return f.reprocessing[typeID], nil
}

func (f *fakePriceSource) ShipGroup(ctx context.Context, typeID int32) (int32, bool, error) {
	groupID, ok := f.shipGroups[typeID]
	return groupID, ok, nil
}

const (
	shipTypeID    = 670
	capitalTypeID = 23773

	frigateGroupID = 25
	titanGroupID   = 30
)

func newTestAppraiser(prices *fakePriceSource) *Appraiser {
	return NewAppraiser(prices, 10000002, []int32{30, 659}, zerolog.Nop())
}

func shipOnlyKillmail(typeID int32) *killbase.Killmail {
	return &killbase.Killmail{
		KillmailID:   1,
		KillmailTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Victim:       killbase.Victim{CorporationID: 98000001, ShipTypeID: typeID},
	}
}

func TestShipValueFallbackOrder(t *testing.T) {
	prices := &fakePriceSource{
		prices:       map[int32]float64{shipTypeID: 500_000},
		customPrices: map[int32]float64{shipTypeID: 2_000_000},
		reprocessing: map[int32]float64{shipTypeID: 120_000},
		shipGroups:   map[int32]int32{shipTypeID: frigateGroupID},
	}
	appraiser := newTestAppraiser(prices)

	// Custom price wins over everything.
	breakdown, err := appraiser.Appraise(context.Background(), shipOnlyKillmail(shipTypeID))
	require.NoError(t, err)
	require.Equal(t, 2_000_000.0, breakdown.ShipValue)

	// Without the override, the market price applies.
	prices.customPrices = nil
	breakdown, err = appraiser.Appraise(context.Background(), shipOnlyKillmail(shipTypeID))
	require.NoError(t, err)
	require.Equal(t, 500_000.0, breakdown.ShipValue)

	// Without a market price, the reprocessing estimate applies.
	prices.prices = nil
	breakdown, err = appraiser.Appraise(context.Background(), shipOnlyKillmail(shipTypeID))
	require.NoError(t, err)
	require.Equal(t, 120_000.0, breakdown.ShipValue)

	// Nothing at all resolves to zero.
	prices.reprocessing = nil
	breakdown, err = appraiser.Appraise(context.Background(), shipOnlyKillmail(shipTypeID))
	require.NoError(t, err)
	require.Equal(t, 0.0, breakdown.ShipValue)
	require.Equal(t, 0.0, breakdown.TotalValue)
}

func TestCapitalHullPrefersReprocessingValue(t *testing.T) {
	prices := &fakePriceSource{
		prices:       map[int32]float64{capitalTypeID: 60_000_000_000},
		reprocessing: map[int32]float64{capitalTypeID: 85_000_000_000},
		shipGroups:   map[int32]int32{capitalTypeID: titanGroupID},
	}
	appraiser := newTestAppraiser(prices)

	breakdown, err := appraiser.Appraise(context.Background(), shipOnlyKillmail(capitalTypeID))
	require.NoError(t, err)
	require.Equal(t, 85_000_000_000.0, breakdown.ShipValue)

	// Without material data, the sparse market price still beats zero.
	prices.reprocessing = nil
	breakdown, err = appraiser.Appraise(context.Background(), shipOnlyKillmail(capitalTypeID))
	require.NoError(t, err)
	require.Equal(t, 60_000_000_000.0, breakdown.ShipValue)
}

func TestCargoValue(t *testing.T) {
	prices := &fakePriceSource{
		prices: map[int32]float64{
			34:  5.2,   // loose minerals
			648: 1_000, // container
			587: 400_000,
		},
	}
	appraiser := newTestAppraiser(prices)

	killmail := shipOnlyKillmail(0)
	killmail.Victim.Items = []killbase.Item{
		{ItemTypeID: 34, QuantityDropped: 100},
		{ItemTypeID: 648, Singleton: killbase.SingletonItem, Items: []killbase.Item{
			{ItemTypeID: 587, QuantityDestroyed: 2},
		}},
	}

	breakdown, err := appraiser.Appraise(context.Background(), killmail)
	require.NoError(t, err)

	// The container itself contributes nothing, only its contents.
	require.Equal(t, 520.0, breakdown.DroppedValue)
	require.Equal(t, 800_000.0, breakdown.DestroyedValue)
	require.Equal(t, 800_520.0, breakdown.TotalValue)
}

func TestBlueprintCopyPricedAtFraction(t *testing.T) {
	prices := &fakePriceSource{
		prices: map[int32]float64{955: 1_000_000},
	}
	appraiser := newTestAppraiser(prices)

	killmail := shipOnlyKillmail(0)
	killmail.Victim.Items = []killbase.Item{
		{ItemTypeID: 955, Singleton: killbase.SingletonBlueprintCopy, QuantityDropped: 3},
	}

	breakdown, err := appraiser.Appraise(context.Background(), killmail)
	require.NoError(t, err)
	require.Equal(t, 30_000.0, breakdown.DroppedValue)
}

func TestUnpricedItemGetsFloorValue(t *testing.T) {
	appraiser := newTestAppraiser(&fakePriceSource{})

	killmail := shipOnlyKillmail(0)
	killmail.Victim.Items = []killbase.Item{
		{ItemTypeID: 99999, QuantityDestroyed: 4},
	}

	breakdown, err := appraiser.Appraise(context.Background(), killmail)
	require.NoError(t, err)
	require.InDelta(t, 0.04, breakdown.DestroyedValue, 1e-9)
	require.Greater(t, breakdown.TotalValue, 0.0)
}

func TestAppraiseBatchBoundedConcurrency(t *testing.T) {
	prices := &fakePriceSource{delay: 5 * time.Millisecond}
	appraiser := newTestAppraiser(prices)

	killmails := make([]*killbase.Killmail, 50)
	for i := range killmails {
		killmails[i] = shipOnlyKillmail(int32(i + 1))
	}

	appraisals := appraiser.AppraiseBatch(context.Background(), killmails)
	require.Len(t, appraisals, 50)
	for _, appraisal := range appraisals {
		require.NoError(t, appraisal.Err)
	}

	require.LessOrEqual(t, prices.maxInFlight, int32(batchConcurrency))
	require.Greater(t, prices.maxInFlight, int32(1))
}

func TestAppraiseBatchFailureIsIsolated(t *testing.T) {
	prices := &fakePriceSource{pricesErr: errors.New("price store down")}
	appraiser := newTestAppraiser(prices)

	killmails := []*killbase.Killmail{shipOnlyKillmail(1), shipOnlyKillmail(2)}
	appraisals := appraiser.AppraiseBatch(context.Background(), killmails)

	require.Len(t, appraisals, 2)
	require.Error(t, appraisals[0].Err)
	require.Error(t, appraisals[1].Err)
}
