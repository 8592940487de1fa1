// Package models defines the registry's persisted entities and the value types passed between layers.
package models

import (
	"strings"
	"time"
)

// RequestStatus is the lifecycle state of a copy or deletion request.
type RequestStatus string

const (
	// StatusNew is set on creation and kept while resubmissions arrive before activation.
	StatusNew RequestStatus = "new"
	// StatusUpdated marks a copy request resubmitted after it left the new state.
	StatusUpdated RequestStatus = "updated"
	// StatusActivated is set by the agent once it picks the request up.
	StatusActivated RequestStatus = "activated"
	// StatusCompleted is set by the agent when the request is realized.
	StatusCompleted RequestStatus = "completed"
	// StatusRejected is set by the agent when the request cannot be realized.
	StatusRejected RequestStatus = "rejected"
	// StatusCancelled is set when the owner cancels the request.
	StatusCancelled RequestStatus = "cancelled"
)

// IsTerminal reports whether no end-user transition leaves s.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Family selects one of the two parallel request table families.
type Family string

const (
	FamilyCopy     Family = "copy"
	FamilyDeletion Family = "deletion"
)

// LiveStatuses returns the statuses that make a request of this family live.
func (f Family) LiveStatuses() []RequestStatus {
	if f == FamilyCopy {
		return []RequestStatus{StatusNew, StatusActivated, StatusUpdated}
	}
	return []RequestStatus{StatusNew, StatusActivated}
}

// IsLive reports whether s is a live status for this family.
func (f Family) IsLive(s RequestStatus) bool {
	for _, live := range f.LiveStatuses() {
		if live == s {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s exists in this family's state machine.
func (f Family) ValidStatus(s RequestStatus) bool {
	switch s {
	case StatusNew, StatusActivated, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	case StatusUpdated:
		return f == FamilyCopy
	}
	return false
}

// ParseFamily maps a route segment onto a Family.
func ParseFamily(s string) (Family, bool) {
	switch strings.ToLower(s) {
	case "copy":
		return FamilyCopy, true
	case "deletion", "delete":
		return FamilyDeletion, true
	}
	return "", false
}

// WildcardMarker in a copy request's site authorizes more than one replica.
const WildcardMarker = "*"

// IsWildcardSite reports whether site is a pattern rather than a single site name.
func IsWildcardSite(site string) bool {
	return strings.Contains(site, WildcardMarker)
}

// EffectiveCopies applies the replica-count rule: n is honored only for wildcard sites.
func EffectiveCopies(site string, n int) int {
	if !IsWildcardSite(site) {
		return 1
	}
	return n
}

// CopyRequest is the header row of a copy request.
type CopyRequest struct {
	ID               uint          `gorm:"primaryKey"`
	Site             string        `gorm:"size:128;not null;index"`
	Group            string        `gorm:"column:group;size:64;not null"`
	NumCopies        int           `gorm:"not null;default:1"`
	Status           RequestStatus `gorm:"type:varchar(16);not null;default:'new';index"`
	FirstRequestTime time.Time     `gorm:"not null"`
	LastRequestTime  time.Time     `gorm:"not null"`
	RequestCount     int           `gorm:"not null;default:1"`
	RejectionReason  string        `gorm:"type:text"`
	UserID           uint          `gorm:"not null;index"`

	Items    []CopyRequestItem `gorm:"foreignKey:RequestID"`
	Activity []CopyActivity    `gorm:"foreignKey:RequestID"`
	User     *User             `gorm:"foreignKey:UserID"`
}

// TableName returns the database table name for CopyRequest.
func (CopyRequest) TableName() string { return "copy_requests" }

// CopyRequestItem is one data item attached to a copy request.
type CopyRequestItem struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID uint   `gorm:"not null;index"`
	Item      string `gorm:"size:512;not null;index"`
}

// TableName returns the database table name for CopyRequestItem.
func (CopyRequestItem) TableName() string { return "copy_request_items" }

// CopyActivity is a per-site progress row written by the agent.
type CopyActivity struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID uint      `gorm:"not null;index"`
	Site      string    `gorm:"size:128;not null"`
	Status    string    `gorm:"type:varchar(16);not null"`
	Updated   time.Time `gorm:"not null"`
}

// TableName returns the database table name for CopyActivity.
func (CopyActivity) TableName() string { return "active_copies" }

// DeletionRequest is the header row of a deletion request.
type DeletionRequest struct {
	ID              uint          `gorm:"primaryKey"`
	Site            string        `gorm:"size:128;not null;index"`
	Status          RequestStatus `gorm:"type:varchar(16);not null;default:'new';index"`
	Timestamp       time.Time     `gorm:"not null"`
	RejectionReason string        `gorm:"type:text"`
	UserID          uint          `gorm:"not null;index"`

	Items    []DeletionRequestItem `gorm:"foreignKey:RequestID"`
	Activity []DeletionActivity    `gorm:"foreignKey:RequestID"`
	User     *User                 `gorm:"foreignKey:UserID"`
}

// TableName returns the database table name for DeletionRequest.
func (DeletionRequest) TableName() string { return "deletion_requests" }

// DeletionRequestItem is one data item attached to a deletion request.
type DeletionRequestItem struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID uint   `gorm:"not null;index"`
	Item      string `gorm:"size:512;not null;index"`
}

// TableName returns the database table name for DeletionRequestItem.
func (DeletionRequestItem) TableName() string { return "deletion_request_items" }

// DeletionActivity is an aggregate progress row written by the agent.
type DeletionActivity struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID uint      `gorm:"not null;index"`
	Status    string    `gorm:"type:varchar(16);not null"`
	Updated   time.Time `gorm:"not null"`
}

// TableName returns the database table name for DeletionActivity.
func (DeletionActivity) TableName() string { return "active_deletions" }

// CopyPatch carries the optional header changes of a copy request update.
// A nil field leaves the column untouched.
type CopyPatch struct {
	Status    *RequestStatus
	Group     *string
	NumCopies *int
}

// CountsAsResubmission reports whether applying the patch bumps request_count.
func (p CopyPatch) CountsAsResubmission() bool {
	return p.Status == nil || *p.Status != StatusCancelled
}

// CopyUpdate pairs a copy request id with the patch applied to it.
type CopyUpdate struct {
	ID    uint
	Patch CopyPatch
}

// ItemMatchMode selects how an item filter qualifies a request.
type ItemMatchMode int

const (
	// MatchExact requires the stored item set to equal the filter set.
	MatchExact ItemMatchMode = iota
	// MatchContains requires the stored item set to contain every filter item.
	MatchContains
)

// ItemFilter is a normalized item constraint. Given distinguishes an
// explicitly empty set (matches nothing) from no constraint at all. Scalar
// marks a single item sent as a plain value rather than a list.
type ItemFilter struct {
	Given  bool
	Scalar bool
	Items  []string
}

// Items builds a given item filter.
func Items(items ...string) ItemFilter {
	return ItemFilter{Given: true, Items: items}
}

// SingleItem builds the filter for one item sent as a plain value.
func SingleItem(item string) ItemFilter {
	return ItemFilter{Given: true, Scalar: true, Items: []string{item}}
}

// PollMatch is the item match mode for a poll: a plain single item only
// needs to be among the request's items, a list must equal them.
func (f ItemFilter) PollMatch() ItemMatchMode {
	if f.Scalar && len(f.Items) == 1 {
		return MatchContains
	}
	return MatchExact
}

// RequestFilter narrows a store fetch. A non-zero RequestID overrides every
// other field except AllUsers.
type RequestFilter struct {
	RequestID uint
	Items     ItemFilter
	ItemMatch ItemMatchMode
	Site      *string
	AllUsers  bool
	// Statuses replaces the family's live set when non-empty.
	Statuses []RequestStatus
}

// ByID builds a filter targeting a single request.
func ByID(id uint) RequestFilter {
	return RequestFilter{RequestID: id}
}
