package models

import (
	"time"
)

// RemoteAccount is a per-user credential set for the publishing site.
type RemoteAccount struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Name       string    `gorm:"size:100" json:"name"`
	Username   string    `gorm:"not null;size:200" json:"username"`
	Password   string    `gorm:"not null;size:200" json:"-"`
	TOTPSecret string    `gorm:"size:100" json:"-"`
	IsDefault  bool      `gorm:"default:false;index" json:"is_default"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SystemSetting is a runtime-adjustable key/value pair.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const SettingSyncIntervalMinutes = "sync_interval_minutes"
