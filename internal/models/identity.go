package models

import "time"

// User is a registered account identified by its certificate distinguished name.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;uniqueIndex;not null" json:"name"`
	DN        string    `gorm:"column:dn;size:512;uniqueIndex;not null" json:"dn"`
	CreatedAt time.Time `json:"created_at"`

	Services []Service `gorm:"many2many:user_services;" json:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Service is a named capability a user can hold, e.g. the registry operator role.
type Service struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:64;uniqueIndex;not null" json:"name"`
}

// TableName returns the database table name for Service.
func (Service) TableName() string { return "services" }

// UserService is the join row between users and services.
type UserService struct {
	UserID    uint `gorm:"primaryKey"`
	ServiceID uint `gorm:"primaryKey"`
}

// TableName returns the database table name for UserService.
func (UserService) TableName() string { return "user_services" }

// Session records one authenticated call against the registry.
type Session struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      uint      `gorm:"not null;index"`
	EffectiveID uint      `gorm:"not null;index"`
	Command     string    `gorm:"size:32;not null"`
	RemoteAddr  string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Caller is the resolved identity of a command invocation. UserID and
// SessionID are zero for an unknown caller. When an authorized operator acts
// on behalf of another user, UserID and UserName describe the effective user.
type Caller struct {
	UserID     uint
	UserName   string
	SessionID  uint
	Authorized bool
	// ActingAs is set when UserID differs from the authenticated user.
	ActingAs bool
}

// Known reports whether the caller resolved to a registered user with a session.
func (c Caller) Known() bool {
	return c.UserID != 0 && c.SessionID != 0
}
