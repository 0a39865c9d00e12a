package models

import "time"

// HeraldPost records chat notifications already delivered. The (kind, ref)
// pair is unique so reconnect replays and overlapping digest windows never
// double-post: kind "deal" uses the room id as ref, kind "digest" the
// window date.
type HeraldPost struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Kind     string `gorm:"size:16;not null;uniqueIndex:idx_herald_kind_ref"`
	Ref      string `gorm:"size:64;not null;uniqueIndex:idx_herald_kind_ref"`
	Channel  string `gorm:"size:64"`
	PostedAt time.Time
}
