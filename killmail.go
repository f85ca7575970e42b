package killbase

import "time"

// Killmail is one combat-loss record in the shape ESI and the upstream feed
// deliver it. Item trees can nest through containers, so the victim's items
// are a recursive structure rather than the flat storage rows.
type Killmail struct {
	KillmailID    int32      `json:"killmail_id"`
	KillmailTime  time.Time  `json:"killmail_time"`
	SolarSystemID int32      `json:"solar_system_id"`
	MoonID        int32      `json:"moon_id,omitempty"`
	WarID         int32      `json:"war_id,omitempty"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

type Victim struct {
	CharacterID   *int32    `json:"character_id,omitempty"`
	CorporationID int32     `json:"corporation_id"`
	AllianceID    *int32    `json:"alliance_id,omitempty"`
	FactionID     *int32    `json:"faction_id,omitempty"`
	DamageTaken   int32     `json:"damage_taken"`
	ShipTypeID    int32     `json:"ship_type_id"`
	Position      *Position `json:"position,omitempty"`
	Items         []Item    `json:"items,omitempty"`
}

type Attacker struct {
	CharacterID    *int32  `json:"character_id,omitempty"`
	CorporationID  *int32  `json:"corporation_id,omitempty"`
	AllianceID     *int32  `json:"alliance_id,omitempty"`
	FactionID      *int32  `json:"faction_id,omitempty"`
	DamageDone     int32   `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status"`
	ShipTypeID     *int32  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int32  `json:"weapon_type_id,omitempty"`
}

// Singleton values carried on items.
const (
	SingletonStack         = 0
	SingletonItem          = 1
	SingletonBlueprintCopy = 2
)

// Item is either a stack directly on the ship or a container holding further
// items. Singleton 2 marks a blueprint copy.
type Item struct {
	Flag              int32  `json:"flag"`
	ItemTypeID        int32  `json:"item_type_id"`
	QuantityDropped   int64  `json:"quantity_dropped,omitempty"`
	QuantityDestroyed int64  `json:"quantity_destroyed,omitempty"`
	Singleton         int32  `json:"singleton"`
	Items             []Item `json:"items,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// KillmailMeta carries the derived fields delivered next to the raw killmail
// on the feed, matching the zkillboard RedisQ envelope.
type KillmailMeta struct {
	LocationID     int64    `json:"locationID,omitzero"`
	Hash           string   `json:"hash,omitzero"`
	DroppedValue   float64  `json:"droppedValue,omitzero"`
	DestroyedValue float64  `json:"destroyedValue,omitzero"`
	TotalValue     float64  `json:"totalValue,omitzero"`
	Points         int      `json:"points,omitzero"`
	Npc            bool     `json:"npc,omitzero"`
	Solo           bool     `json:"solo,omitzero"`
	Awox           bool     `json:"awox,omitzero"`
	Href           string   `json:"href,omitzero"`
	Labels         []string `json:"labels"`
}

// FeedPackage is one delivered killmail on the long-poll feed.
type FeedPackage struct {
	KillID   int32        `json:"killID"`
	Killmail Killmail     `json:"killmail"`
	Meta     KillmailMeta `json:"meta"`
}

// FeedResponse is the poll envelope. Package is null when the wait window
// expired with nothing new.
type FeedResponse struct {
	Package *FeedPackage `json:"package"`
}
