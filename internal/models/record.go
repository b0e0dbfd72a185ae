package models

import "time"

// Status is the moderation state persisted with every record.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
	// StatusErrored marks a video job the analyzer itself reported as failed.
	StatusErrored Status = "ERRORED"
)

// NoJobID is stored as JobID for images, which are analyzed synchronously.
const NoJobID = "N/A"

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusErrored
}

func (s Status) Valid() bool {
	return s == StatusInProgress || s.Terminal()
}

type ModerationRecord struct {
	ObjectID    string    `gorm:"primaryKey;type:varchar(1024)" json:"ObjectID" dynamodbav:"ObjectID"`
	JobID       string    `gorm:"not null" json:"JobID" dynamodbav:"JobID"`
	OwnerID     string    `gorm:"not null;index:idx_owner_submitted,priority:1" json:"OwnerID" dynamodbav:"OwnerID"`
	Status      Status    `gorm:"type:varchar(16);not null;index" json:"Status" dynamodbav:"Status"`
	SubmittedAt time.Time `gorm:"not null;index:idx_owner_submitted,priority:2" json:"SubmittedAt" dynamodbav:"SubmittedAt"`
	Findings    []string  `gorm:"type:text;serializer:json" json:"Findings" dynamodbav:"Findings"`
	Offsets     []int64   `gorm:"type:text;serializer:json" json:"Offsets" dynamodbav:"Offsets"`
	Error       string    `gorm:"type:text" json:"Error,omitempty" dynamodbav:"Error,omitempty"`
	UpdatedAt   time.Time `gorm:"not null" json:"-" dynamodbav:"UpdatedAt"`
}

func (ModerationRecord) TableName() string {
	return "moderation_results"
}

// NewInProgressRecord builds the row written right after an async job is dispatched.
func NewInProgressRecord(objectID, jobID, ownerID string, now time.Time) *ModerationRecord {
	now = now.UTC()
	return &ModerationRecord{
		ObjectID:    objectID,
		JobID:       jobID,
		OwnerID:     ownerID,
		Status:      StatusInProgress,
		SubmittedAt: now,
		Findings:    []string{},
		Offsets:     []int64{},
		UpdatedAt:   now,
	}
}

// RecordUpdate carries the mutable fields of a record. ObjectID, JobID,
// OwnerID and SubmittedAt are never part of an update.
type RecordUpdate struct {
	Status   Status
	Findings []string
	Offsets  []int64
	Error    string
}

// Apply copies the update onto r.
func (u RecordUpdate) Apply(r *ModerationRecord, now time.Time) {
	r.Status = u.Status
	r.Findings = nonNilStrings(u.Findings)
	r.Offsets = nonNilOffsets(u.Offsets)
	r.Error = u.Error
	r.UpdatedAt = now.UTC()
}

// Normalize replaces nil slices with empty ones so a record always
// serializes Findings and Offsets as arrays.
func (r *ModerationRecord) Normalize() {
	r.Findings = nonNilStrings(r.Findings)
	r.Offsets = nonNilOffsets(r.Offsets)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilOffsets(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}
