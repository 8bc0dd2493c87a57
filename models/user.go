package models

import (
	"time"

	"github.com/google/uuid"
)

// User 代表拍賣系統中的使用者
// 包含登入資訊、位置與目前是否在線
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey;<-:false"`
	Name         string    `gorm:"type:varchar(255);not null"`
	Email        string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	Username     string    `gorm:"type:varchar(255);not null;uniqueIndex;<-:create"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	Latitude     float64   `gorm:"type:double precision;not null;default:0"`
	Longitude    float64   `gorm:"type:double precision;not null;default:0"`
	Online       bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
