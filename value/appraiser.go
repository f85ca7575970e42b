// Package value computes the economic worth of a killmail: the destroyed hull
// plus everything that dropped or burned with it, priced as of the kill date.
package value

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"killbase"
)

// PriceSource answers historical price questions against the reference data
// set. All lookups are as-of a date: the closest prior daily snapshot wins.
type PriceSource interface {
	// Prices resolves a price-per-type map for the given date and market
	// region in one query. Types without a price are simply absent.
	Prices(ctx context.Context, typeIDs []int32, date time.Time, regionID int32) (map[int32]float64, error)

	// CustomPrice returns a manually curated override for the type, if one
	// exists. Used for event-only hulls and known market manipulation cases.
	CustomPrice(ctx context.Context, typeID int32, date time.Time) (float64, bool, error)

	// ReprocessingValue estimates the type's worth as the priced sum of the
	// materials it would yield when broken down.
	ReprocessingValue(ctx context.Context, typeID int32, date time.Time, regionID int32) (float64, error)

	// ShipGroup looks up the group a ship type belongs to.
	ShipGroup(ctx context.Context, typeID int32) (int32, bool, error)
}

// Breakdown is the derived value of one killmail.
type Breakdown struct {
	ShipValue      float64
	DroppedValue   float64
	DestroyedValue float64
	TotalValue     float64
}

// Appraisal is one result of a batch valuation.
type Appraisal struct {
	Breakdown
	Err error
}

const (
	// minItemValue keeps unpriced items distinguishable from genuinely
	// worthless junk in aggregate reporting.
	minItemValue = 0.01

	blueprintCopyDivisor = 100

	// batchConcurrency bounds in-flight valuations so backfills do not
	// overwhelm the price store.
	batchConcurrency = 10
)

type Appraiser struct {
	prices        PriceSource
	regionID      int32
	capitalGroups map[int32]bool
	logger        zerolog.Logger
}

// NewAppraiser builds an appraiser against the given reference market region.
// Ships in capitalGroupIDs are always valued by reprocessing estimate, since
// market prices for those hulls are too sparse to trust.
func NewAppraiser(prices PriceSource, regionID int32, capitalGroupIDs []int32, logger zerolog.Logger) *Appraiser {
	capitalGroups := make(map[int32]bool, len(capitalGroupIDs))
	for _, groupID := range capitalGroupIDs {
		capitalGroups[groupID] = true
	}

	return &Appraiser{
		prices:        prices,
		regionID:      regionID,
		capitalGroups: capitalGroups,
		logger:        logger,
	}
}

// Appraise values a single killmail as of its own timestamp. Missing price
// data never fails the valuation; only the price store being unreachable does.
func (a *Appraiser) Appraise(ctx context.Context, killmail *killbase.Killmail) (Breakdown, error) {
	prices, err := a.prices.Prices(ctx, killmailTypeIDs(killmail), killmail.KillmailTime, a.regionID)
	if err != nil {
		return Breakdown{}, err
	}

	breakdown := Breakdown{}

	breakdown.ShipValue, err = a.shipValue(ctx, killmail.Victim.ShipTypeID, killmail.KillmailTime, prices)
	if err != nil {
		return Breakdown{}, err
	}

	breakdown.DroppedValue, breakdown.DestroyedValue = cargoValue(killmail.Victim.Items, prices)
	breakdown.TotalValue = breakdown.ShipValue + breakdown.DroppedValue + breakdown.DestroyedValue

	return breakdown, nil
}

// AppraiseBatch values killmails with bounded concurrency. Each killmail's
// valuation is independent; a failed one carries its error in the result and
// never blocks its siblings.
func (a *Appraiser) AppraiseBatch(ctx context.Context, killmails []*killbase.Killmail) []Appraisal {
	appraisals := make([]Appraisal, len(killmails))

	group := errgroup.Group{}
	group.SetLimit(batchConcurrency)

	for i, killmail := range killmails {
		i, killmail := i, killmail
		group.Go(func() error {
			breakdown, err := a.Appraise(ctx, killmail)
			appraisals[i] = Appraisal{Breakdown: breakdown, Err: err}
			return nil
		})
	}

	// Workers never return errors; failures stay per-slot.
	_ = group.Wait()

	return appraisals
}

// shipValue resolves the hull price: curated custom price first, then market
// price, then reprocessing estimate. Capital-class hulls skip the market tier.
func (a *Appraiser) shipValue(ctx context.Context, shipTypeID int32, date time.Time, prices map[int32]float64) (float64, error) {
	if shipTypeID == 0 {
		return 0, nil
	}

	custom, ok, err := a.prices.CustomPrice(ctx, shipTypeID, date)
	if err != nil {
		return 0, err
	}
	if ok {
		return custom, nil
	}

	capital := false
	if groupID, ok, err := a.prices.ShipGroup(ctx, shipTypeID); err != nil {
		return 0, err
	} else if ok {
		capital = a.capitalGroups[groupID]
	}

	market := prices[shipTypeID]
	if market > 0 && !capital {
		return market, nil
	}

	reprocessed, err := a.prices.ReprocessingValue(ctx, shipTypeID, date, a.regionID)
	if err != nil {
		return 0, err
	}
	if reprocessed > 0 {
		return reprocessed, nil
	}

	// A capital hull without material data still beats zero.
	return market, nil
}

// cargoValue walks the item tree. Leaves contribute price times quantity;
// containers contribute nothing themselves, only their contents.
func cargoValue(items []killbase.Item, prices map[int32]float64) (dropped float64, destroyed float64) {
	for _, item := range items {
		if len(item.Items) > 0 {
			droppedInside, destroyedInside := cargoValue(item.Items, prices)
			dropped += droppedInside
			destroyed += destroyedInside
			continue
		}

		price := prices[item.ItemTypeID]
		if price <= 0 {
			price = minItemValue
		}
		if item.Singleton == killbase.SingletonBlueprintCopy {
			price /= blueprintCopyDivisor
		}

		dropped += price * float64(item.QuantityDropped)
		destroyed += price * float64(item.QuantityDestroyed)
	}

	return dropped, destroyed
}

// killmailTypeIDs collects the distinct type IDs a valuation needs to price:
// the hull plus every item, including items nested inside containers.
func killmailTypeIDs(killmail *killbase.Killmail) []int32 {
	seen := map[int32]bool{}
	typeIDs := []int32{}

	add := func(typeID int32) {
		if typeID != 0 && !seen[typeID] {
			seen[typeID] = true
			typeIDs = append(typeIDs, typeID)
		}
	}

	add(killmail.Victim.ShipTypeID)

	var walk func(items []killbase.Item)
	walk = func(items []killbase.Item) {
		for _, item := range items {
			add(item.ItemTypeID)
			walk(item.Items)
		}
	}
	walk(killmail.Victim.Items)

	return typeIDs
}
