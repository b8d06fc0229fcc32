package model

import "time"

// PubProcCg lists the documents currently in the production publishing
// collection, with the version that was published.
type PubProcCg struct {
	ID      uint `gorm:"primaryKey;autoIncrement:false"`
	PubProc uint `gorm:"not null"`
	Version int  `gorm:"not null"`
}

func (PubProcCg) TableName() string {
	return "pub_proc_cg"
}

// ExternalMap maps values from external systems to CDR documents.
type ExternalMap struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	Usage string `gorm:"not null"`
	Value string `gorm:"not null"`
	DocID *uint  `gorm:"index"`
}

func (ExternalMap) TableName() string {
	return "external_map"
}

// ReadyForReview flags a document as ready for review.
type ReadyForReview struct {
	DocID     uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

func (ReadyForReview) TableName() string {
	return "ready_for_review"
}

// Zipcode is the reference table for valid US ZIP codes.
type Zipcode struct {
	Zip string `gorm:"primaryKey;size:5"`
}

func (Zipcode) TableName() string {
	return "zipcode"
}

// GrpUsr puts a user in a permission group.
type GrpUsr struct {
	Grp string `gorm:"primaryKey"`
	Usr string `gorm:"primaryKey"`
}

func (GrpUsr) TableName() string {
	return "grp_usr"
}

// GrpAction grants an action to a group. An empty DocType grants the action
// for every doctype.
type GrpAction struct {
	Grp     string `gorm:"primaryKey"`
	Action  string `gorm:"primaryKey"`
	DocType string `gorm:"primaryKey"`
}

func (GrpAction) TableName() string {
	return "grp_action"
}
