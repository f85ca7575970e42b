package main

import lru "github.com/hashicorp/golang-lru/v2"

// recentKillmails short-circuits upstream re-announcements before they cost
// an ESI fetch; the store's own dedup still catches anything that ages out.
var recentKillmails, _ = lru.New[int32, bool](4096)

func isKillmailCached(killmailID int32) bool {
	ok, _ := recentKillmails.ContainsOrAdd(killmailID, true)
	return ok
}
