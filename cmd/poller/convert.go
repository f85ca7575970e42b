package main

import (
	"github.com/antihax/goesi/esi"

	"killbase"
)

// convertESIKillmail maps the generated ESI client model onto the recursive
// payload types. The generated model only expresses two container levels;
// anything it can deliver fits the recursive shape.
func convertESIKillmail(k esi.GetKillmailsKillmailIdKillmailHashOk) killbase.Killmail {
	killmail := killbase.Killmail{
		KillmailID:    k.KillmailId,
		KillmailTime:  k.KillmailTime,
		SolarSystemID: k.SolarSystemId,
		MoonID:        k.MoonId,
		WarID:         k.WarId,
		Victim: killbase.Victim{
			CharacterID:   optionalID(k.Victim.CharacterId),
			CorporationID: k.Victim.CorporationId,
			AllianceID:    optionalID(k.Victim.AllianceId),
			FactionID:     optionalID(k.Victim.FactionId),
			DamageTaken:   k.Victim.DamageTaken,
			ShipTypeID:    k.Victim.ShipTypeId,
		},
	}

	if k.Victim.Position.X != 0 || k.Victim.Position.Y != 0 || k.Victim.Position.Z != 0 {
		killmail.Victim.Position = &killbase.Position{
			X: k.Victim.Position.X,
			Y: k.Victim.Position.Y,
			Z: k.Victim.Position.Z,
		}
	}

	for _, item := range k.Victim.Items {
		converted := killbase.Item{
			Flag:              item.Flag,
			ItemTypeID:        item.ItemTypeId,
			QuantityDropped:   item.QuantityDropped,
			QuantityDestroyed: item.QuantityDestroyed,
			Singleton:         item.Singleton,
		}

		for _, nested := range item.Items {
			converted.Items = append(converted.Items, killbase.Item{
				Flag:              nested.Flag,
				ItemTypeID:        nested.ItemTypeId,
				QuantityDropped:   nested.QuantityDropped,
				QuantityDestroyed: nested.QuantityDestroyed,
				Singleton:         nested.Singleton,
			})
		}

		killmail.Victim.Items = append(killmail.Victim.Items, converted)
	}

	for _, attacker := range k.Attackers {
		killmail.Attackers = append(killmail.Attackers, killbase.Attacker{
			CharacterID:    optionalID(attacker.CharacterId),
			CorporationID:  optionalID(attacker.CorporationId),
			AllianceID:     optionalID(attacker.AllianceId),
			FactionID:      optionalID(attacker.FactionId),
			DamageDone:     attacker.DamageDone,
			FinalBlow:      attacker.FinalBlow,
			SecurityStatus: float64(attacker.SecurityStatus),
			ShipTypeID:     optionalID(attacker.ShipTypeId),
			WeaponTypeID:   optionalID(attacker.WeaponTypeId),
		})
	}

	return killmail
}

func optionalID(id int32) *int32 {
	if id == 0 {
		return nil
	}
	return &id
}
