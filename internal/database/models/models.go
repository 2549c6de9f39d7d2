package models

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Username             string     `gorm:"uniqueIndex;not null;size:50" json:"username"`
	Email                string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash         string     `gorm:"not null;size:255" json:"-"`
	Name                 string     `gorm:"size:100" json:"name,omitempty"`
	Country              string     `gorm:"size:100" json:"country,omitempty"`
	ResetPasswordToken   *string    `gorm:"uniqueIndex;size:64" json:"-"`
	ResetPasswordExpires *time.Time `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// File is an uploaded blob. StorageName locates the blob in the storage
// backend and never collides, unlike the user-facing Name.
type File struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	StorageName string    `gorm:"uniqueIndex;not null;size:255" json:"storage_name"`
	Size        int64     `gorm:"not null;default:0" json:"size"`
	Author      string    `gorm:"not null;size:50;index" json:"author"`
	UploadDate  time.Time `gorm:"not null;index" json:"upload_date"`
}

type TradeStatus string

const (
	TradePending  TradeStatus = "Pending"
	TradeCanceled TradeStatus = "Canceled"
	TradeAccepted TradeStatus = "Accepted"
	TradeRejected TradeStatus = "Rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s TradeStatus) Terminal() bool {
	return s != TradePending
}

// TradeRequest asks To (the file's author) to share a file with From.
// FileID is a weak reference: the request is removed when the file is.
type TradeRequest struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	FileID    uint        `gorm:"not null;uniqueIndex:idx_trade_file_from_to" json:"file"`
	From      string      `gorm:"column:from_user;not null;size:50;uniqueIndex:idx_trade_file_from_to;index" json:"from"`
	To        string      `gorm:"column:to_user;not null;size:50;uniqueIndex:idx_trade_file_from_to;index" json:"to"`
	Status    TradeStatus `gorm:"not null;size:20;default:'Pending';index" json:"status"`
	CreatedAt time.Time   `gorm:"index" json:"create_date"`

	File *File `gorm:"foreignKey:FileID" json:"file_info,omitempty"`
}

// UserSession maps a user to a session token so all of a user's sessions can
// be found without decoding session payloads. It is a derived index: losing
// rows only weakens invalidation.
type UserSession struct {
	ID        uint                                  `gorm:"primaryKey"`
	UserID    uint                                  `gorm:"not null;index"`
	SessionID string                                `gorm:"not null;size:64;index"`
	LoginDate time.Time                             `gorm:"not null;index"`
	Meta      datatypes.JSONType[UserSessionMeta] `gorm:"type:json"`
}

// UserSessionMeta records where a login came from.
type UserSessionMeta struct {
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}
