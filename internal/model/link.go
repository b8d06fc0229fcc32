package model

// LinkNet is one stored outbound link. Rows are unique per
// (SourceDoc, SourceElem, URL).
type LinkNet struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	LinkType   uint   `gorm:"not null"`
	SourceDoc  uint   `gorm:"not null;index"`
	SourceElem string `gorm:"not null"`
	TargetDoc  *uint  `gorm:"index"`
	TargetFrag string
	URL        string `gorm:"not null"`
}

func (LinkNet) TableName() string {
	return "link_net"
}

// LinkFragment is a fragment id known to exist in the working copy of a
// document.
type LinkFragment struct {
	DocID    uint   `gorm:"primaryKey;autoIncrement:false"`
	Fragment string `gorm:"primaryKey"`
}

func (LinkFragment) TableName() string {
	return "link_fragment"
}

// LinkType is a rule naming which elements may link to which doctypes.
type LinkType struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"uniqueIndex;not null"`
	ChkType string `gorm:"size:1;not null;default:P"`
	Comment string
}

func (LinkType) TableName() string {
	return "link_type"
}

// LinkXML maps a (source doctype, element) pair to exactly one link type.
type LinkXML struct {
	LinkID  uint   `gorm:"not null;index"`
	DocType uint   `gorm:"primaryKey;autoIncrement:false"`
	Element string `gorm:"primaryKey"`
}

func (LinkXML) TableName() string {
	return "link_xml"
}

// LinkTarget is one doctype a link type may point to.
type LinkTarget struct {
	SourceLinkType uint `gorm:"primaryKey;autoIncrement:false"`
	TargetDocType  uint `gorm:"primaryKey;autoIncrement:false"`
}

func (LinkTarget) TableName() string {
	return "link_target"
}

// LinkPropType names a kind of custom link property.
type LinkPropType struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"uniqueIndex;not null"`
	Comment string
}

func (LinkPropType) TableName() string {
	return "link_prop_type"
}

// LinkProperty attaches a custom property to a link type.
type LinkProperty struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	LinkID     uint   `gorm:"not null;index"`
	PropertyID uint   `gorm:"not null"`
	Value      string `gorm:"not null"`
	Comment    string
}

func (LinkProperty) TableName() string {
	return "link_properties"
}
