package model

import (
	"time"
)

const (
	// ActiveStatusActive marks a document which can be published.
	ActiveStatusActive = "A"
	// ActiveStatusInactive marks a blocked document.
	ActiveStatusInactive = "I"
	// ActiveStatusDeleted marks a soft-deleted document. The row and its
	// content are preserved.
	ActiveStatusDeleted = "D"

	ValStatusUnvalidated = "U"
	ValStatusValid       = "V"
	ValStatusInvalid     = "I"
	ValStatusMalformed   = "M"

	Yes = "Y"
	No  = "N"
)

// Document is the live (unversioned) working copy of a CDR document.
type Document struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	DocType      uint   `gorm:"not null;index"`
	Title        string `gorm:"not null;index"`
	XML          string `gorm:"not null;type:text"`
	Comment      string
	ActiveStatus string `gorm:"size:1;not null;default:A"`
	ValStatus    string `gorm:"size:1;not null;default:U"`
	ValDate      *time.Time
	FirstPub     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Document) TableName() string {
	return "all_docs"
}

// DocVersion is an immutable snapshot of a document. Rows are never
// updated once inserted.
type DocVersion struct {
	ID          uint   `gorm:"primaryKey;autoIncrement:false"`
	Num         int    `gorm:"primaryKey;autoIncrement:false"`
	DocType     uint   `gorm:"not null"`
	Title       string `gorm:"not null"`
	XML         string `gorm:"not null;type:text"`
	Comment     string
	ValStatus   string `gorm:"size:1;not null"`
	ValDate     *time.Time
	Publishable string    `gorm:"size:1;not null;default:N"`
	UpdatedDT   time.Time `gorm:"not null;index"`
	Usr         string    `gorm:"not null"`
}

func (DocVersion) TableName() string {
	return "doc_version"
}

// DocBlob holds the bytes of a binary attachment, encoded with the named
// compression codec.
type DocBlob struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Data        []byte `gorm:"not null"`
	Compression string `gorm:"not null;default:nop"`
}

func (DocBlob) TableName() string {
	return "doc_blob"
}

// DocBlobUsage links the working copy of a document to its blob.
type DocBlobUsage struct {
	DocID  uint `gorm:"primaryKey;autoIncrement:false"`
	BlobID uint `gorm:"not null;index"`
}

func (DocBlobUsage) TableName() string {
	return "doc_blob_usage"
}

// VersionBlobUsage links a frozen version to the blob it carried.
type VersionBlobUsage struct {
	DocID      uint `gorm:"primaryKey;autoIncrement:false"`
	DocVersion int  `gorm:"primaryKey;autoIncrement:false"`
	BlobID     uint `gorm:"not null;index"`
}

func (VersionBlobUsage) TableName() string {
	return "version_blob_usage"
}

// Checkout records a lock on a document. The lock is active while DtIn is nil.
type Checkout struct {
	ID      uint      `gorm:"primaryKey;autoIncrement"`
	DocID   uint      `gorm:"not null;index"`
	Usr     string    `gorm:"not null"`
	DtOut   time.Time `gorm:"not null"`
	DtIn    *time.Time
	Version *int
	Comment string
}

func (Checkout) TableName() string {
	return "checkout"
}
