package model

import "time"

// DocType is the schema-governed classification of a document.
type DocType struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"uniqueIndex;not null"`
	Format     string `gorm:"not null;default:xml"`
	Versioning string `gorm:"size:1;not null;default:Y"`
	Active     string `gorm:"size:1;not null;default:Y"`
	XMLSchema  *uint
	Comment    string
	CreatedAt  time.Time
}

func (DocType) TableName() string {
	return "doc_type"
}

// FilterSet is a named, ordered collection of filters and nested sets.
type FilterSet struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string `gorm:"not null"`
	Notes       string
}

func (FilterSet) TableName() string {
	return "filter_set"
}

// FilterSetMember is either a filter document (Filter) or a nested set
// (Subset), never both.
type FilterSetMember struct {
	FilterSet uint `gorm:"primaryKey;autoIncrement:false"`
	Position  int  `gorm:"primaryKey;autoIncrement:false"`
	Filter    *uint
	Subset    *uint
}

func (FilterSetMember) TableName() string {
	return "filter_set_member"
}

// VersionLabel is a name applied to a set of document versions.
type VersionLabel struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"uniqueIndex;not null"`
	Comment string
}

func (VersionLabel) TableName() string {
	return "version_label"
}

// DocVersionLabel binds a label to one version of a document.
type DocVersionLabel struct {
	Label    uint `gorm:"primaryKey;autoIncrement:false"`
	Document uint `gorm:"primaryKey;autoIncrement:false"`
	Num      int  `gorm:"not null"`
}

func (DocVersionLabel) TableName() string {
	return "doc_version_label"
}
