package model

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&DocType{},
		&Document{},
		&DocVersion{},
		&DocBlob{},
		&DocBlobUsage{},
		&VersionBlobUsage{},
		&Checkout{},
		&AuditTrail{},
		&AuditTrailAddedAction{},
		&LinkNet{},
		&LinkFragment{},
		&LinkType{},
		&LinkXML{},
		&LinkTarget{},
		&LinkPropType{},
		&LinkProperty{},
		&QueryTermDef{},
		&FilterSet{},
		&FilterSetMember{},
		&VersionLabel{},
		&DocVersionLabel{},
		&PubProcCg{},
		&ExternalMap{},
		&ReadyForReview{},
		&Zipcode{},
		&GrpUsr{},
		&GrpAction{},
	); err != nil {
		return err
	}

	if err := db.Table(QueryTermTable).AutoMigrate(&QueryTerm{}); err != nil {
		return err
	}

	if err := db.Table(QueryTermPubTable).AutoMigrate(&QueryTerm{}); err != nil {
		return err
	}

	// the only custom property type the link engine understands
	return db.Where(LinkPropType{Name: "LinkTargetContains"}).
		FirstOrCreate(&LinkPropType{Name: "LinkTargetContains", Comment: "target must carry matching query term values"}).Error
}
