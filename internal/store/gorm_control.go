package store

import (
	"context"
	"time"

	"github.com/emrgen/cdr/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (g *GormStore) GetDocType(ctx context.Context, id uint) (*model.DocType, error) {
	var dt model.DocType
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&dt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &dt, nil
}

func (g *GormStore) GetDocTypeByName(ctx context.Context, name string) (*model.DocType, error) {
	var dt model.DocType
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&dt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &dt, nil
}

func (g *GormStore) ListDocTypes(ctx context.Context) ([]*model.DocType, error) {
	var dts []*model.DocType
	err := g.db.WithContext(ctx).Order("name").Find(&dts).Error
	return dts, err
}

func (g *GormStore) SaveDocType(ctx context.Context, dt *model.DocType) error {
	return g.db.WithContext(ctx).Save(dt).Error
}

func (g *GormStore) GetLinkType(ctx context.Context, id uint) (*model.LinkType, error) {
	var lt model.LinkType
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&lt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &lt, nil
}

func (g *GormStore) GetLinkTypeByName(ctx context.Context, name string) (*model.LinkType, error) {
	var lt model.LinkType
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&lt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &lt, nil
}

func (g *GormStore) ListLinkTypes(ctx context.Context) ([]*model.LinkType, error) {
	var lts []*model.LinkType
	err := g.db.WithContext(ctx).Order("name").Find(&lts).Error
	return lts, err
}

func (g *GormStore) FindLinkTypeForElement(ctx context.Context, docType uint, element string) (*model.LinkType, error) {
	var lt model.LinkType
	err := g.db.WithContext(ctx).
		Joins("JOIN link_xml ON link_xml.link_id = link_type.id").
		Where("link_xml.doc_type = ? AND link_xml.element = ?", docType, element).
		First(&lt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &lt, nil
}

func (g *GormStore) ListLinkSources(ctx context.Context, linkID uint) ([]*model.LinkXML, error) {
	var rows []*model.LinkXML
	err := g.db.WithContext(ctx).Where("link_id = ?", linkID).Order("doc_type, element").Find(&rows).Error
	return rows, err
}

func (g *GormStore) ListLinkTargets(ctx context.Context, linkID uint) ([]*model.LinkTarget, error) {
	var rows []*model.LinkTarget
	err := g.db.WithContext(ctx).Where("source_link_type = ?", linkID).Order("target_doc_type").Find(&rows).Error
	return rows, err
}

func (g *GormStore) ListLinkProperties(ctx context.Context, linkID uint) ([]*model.LinkProperty, error) {
	var rows []*model.LinkProperty
	err := g.db.WithContext(ctx).Where("link_id = ?", linkID).Order("id").Find(&rows).Error
	return rows, err
}

func (g *GormStore) SaveLinkType(ctx context.Context, lt *model.LinkType, sources []*model.LinkXML, targets []*model.LinkTarget, props []*model.LinkProperty) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(lt).Error; err != nil {
			return err
		}
		if err := deleteLinkTypeChildren(tx, lt.ID); err != nil {
			return err
		}
		for _, s := range sources {
			s.LinkID = lt.ID
		}
		for _, t := range targets {
			t.SourceLinkType = lt.ID
		}
		for _, p := range props {
			p.ID = 0
			p.LinkID = lt.ID
		}
		if len(sources) > 0 {
			if err := tx.Create(&sources).Error; err != nil {
				return err
			}
		}
		if len(targets) > 0 {
			if err := tx.Create(&targets).Error; err != nil {
				return err
			}
		}
		if len(props) > 0 {
			if err := tx.Create(&props).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *GormStore) DeleteLinkType(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteLinkTypeChildren(tx, id); err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.LinkType{}).Error
	})
}

func deleteLinkTypeChildren(tx *gorm.DB, id uint) error {
	if err := tx.Where("link_id = ?", id).Delete(&model.LinkXML{}).Error; err != nil {
		return err
	}
	if err := tx.Where("source_link_type = ?", id).Delete(&model.LinkTarget{}).Error; err != nil {
		return err
	}
	return tx.Where("link_id = ?", id).Delete(&model.LinkProperty{}).Error
}

func (g *GormStore) GetLinkPropType(ctx context.Context, id uint) (*model.LinkPropType, error) {
	var pt model.LinkPropType
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&pt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pt, nil
}

func (g *GormStore) GetLinkPropTypeByName(ctx context.Context, name string) (*model.LinkPropType, error) {
	var pt model.LinkPropType
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&pt).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pt, nil
}

func (g *GormStore) GetFilterSet(ctx context.Context, id uint) (*model.FilterSet, error) {
	var fs model.FilterSet
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&fs).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &fs, nil
}

func (g *GormStore) GetFilterSetByName(ctx context.Context, name string) (*model.FilterSet, error) {
	var fs model.FilterSet
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&fs).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &fs, nil
}

func (g *GormStore) ListFilterSets(ctx context.Context) ([]*model.FilterSet, error) {
	var sets []*model.FilterSet
	err := g.db.WithContext(ctx).Order("name").Find(&sets).Error
	return sets, err
}

func (g *GormStore) ListFilterSetMembers(ctx context.Context, setID uint) ([]*model.FilterSetMember, error) {
	var members []*model.FilterSetMember
	err := g.db.WithContext(ctx).Where("filter_set = ?", setID).Order("position").Find(&members).Error
	return members, err
}

func (g *GormStore) SaveFilterSet(ctx context.Context, set *model.FilterSet, members []*model.FilterSetMember) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(set).Error; err != nil {
			return err
		}
		if err := tx.Where("filter_set = ?", set.ID).Delete(&model.FilterSetMember{}).Error; err != nil {
			return err
		}
		for i, m := range members {
			m.FilterSet = set.ID
			m.Position = i + 1
		}
		if len(members) == 0 {
			return nil
		}
		return tx.Create(&members).Error
	})
}

func (g *GormStore) DeleteFilterSet(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("filter_set = ?", id).Delete(&model.FilterSetMember{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.FilterSet{}).Error
	})
}

func (g *GormStore) GetLabelByName(ctx context.Context, name string) (*model.VersionLabel, error) {
	var l model.VersionLabel
	err := g.db.WithContext(ctx).Where("name = ?", name).First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (g *GormStore) CreateLabel(ctx context.Context, label *model.VersionLabel) error {
	return g.db.WithContext(ctx).Create(label).Error
}

func (g *GormStore) DeleteLabel(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("label = ?", id).Delete(&model.DocVersionLabel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.VersionLabel{}).Error
	})
}

func (g *GormStore) SetVersionLabel(ctx context.Context, l *model.DocVersionLabel) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "label"}, {Name: "document"}},
		DoUpdates: clause.AssignmentColumns([]string{"num"}),
	}).Create(l).Error
}

func (g *GormStore) DeleteVersionLabel(ctx context.Context, label, docID uint) error {
	res := g.db.WithContext(ctx).Where("label = ? AND document = ?", label, docID).Delete(&model.DocVersionLabel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) GetLabeledVersion(ctx context.Context, label string, docID uint) (int, error) {
	var row model.DocVersionLabel
	err := g.db.WithContext(ctx).
		Joins("JOIN version_label ON version_label.id = doc_version_label.label").
		Where("version_label.name = ? AND doc_version_label.document = ?", label, docID).
		First(&row).Error
	if err != nil {
		return 0, notFound(err)
	}
	return row.Num, nil
}

func (g *GormStore) IsPublished(ctx context.Context, docID uint) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.PubProcCg{}).Where("id = ?", docID).Count(&count).Error
	return count > 0, err
}

func (g *GormStore) CountExternalMappings(ctx context.Context, docID uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.ExternalMap{}).Where("doc_id = ?", docID).Count(&count).Error
	return count, err
}

func (g *GormStore) CreateReadyForReview(ctx context.Context, docID uint) error {
	return g.db.WithContext(ctx).Create(&model.ReadyForReview{DocID: docID, CreatedAt: time.Now()}).Error
}

func (g *GormStore) IsValidZip(ctx context.Context, zip string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.Zipcode{}).Where("zip = ?", zip).Count(&count).Error
	return count > 0, err
}

func (g *GormStore) ListGroupActions(ctx context.Context, usr string) ([]*model.GrpAction, error) {
	var actions []*model.GrpAction
	err := g.db.WithContext(ctx).
		Joins("JOIN grp_usr ON grp_usr.grp = grp_action.grp").
		Where("grp_usr.usr = ?", usr).
		Find(&actions).Error
	return actions, err
}

func (g *GormStore) SaveGroupAction(ctx context.Context, a *model.GrpAction) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a).Error
}

func (g *GormStore) AddGroupUser(ctx context.Context, grp, usr string) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.GrpUsr{Grp: grp, Usr: usr}).Error
}
