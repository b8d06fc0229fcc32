package model

import "time"

const (
	ActionAddDocument    = "ADD DOCUMENT"
	ActionModifyDocument = "MODIFY DOCUMENT"
	ActionDeleteDocument = "DELETE DOCUMENT"
	ActionBlockDocument  = "BLOCK DOCUMENT"
	ActionUnblockDoc     = "UNBLOCK DOCUMENT"
	ActionPurgeBlobs     = "PURGE BLOBS"
)

// AuditTrail has one row per write to a document. The key has whole-second
// granularity, so writers must wait for the clock to move past the last
// row recorded for the same document.
type AuditTrail struct {
	Document uint      `gorm:"primaryKey;autoIncrement:false"`
	DT       time.Time `gorm:"primaryKey"`
	Usr      string    `gorm:"not null"`
	Action   string    `gorm:"not null"`
	Program  string
	Comment  string
}

func (AuditTrail) TableName() string {
	return "audit_trail"
}

// AuditTrailAddedAction is a secondary action recorded for the same write
// (for example a status change made during a save).
type AuditTrailAddedAction struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	Document uint      `gorm:"not null;index"`
	DT       time.Time `gorm:"not null"`
	Action   string    `gorm:"not null"`
}

func (AuditTrailAddedAction) TableName() string {
	return "audit_trail_added_action"
}
