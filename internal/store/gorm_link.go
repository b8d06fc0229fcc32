package store

import (
	"context"

	"github.com/emrgen/cdr/internal/model"
)

const batchSize = 500

func (g *GormStore) ListLinks(ctx context.Context, sourceDoc uint) ([]*model.LinkNet, error) {
	var links []*model.LinkNet
	err := g.db.WithContext(ctx).Where("source_doc = ?", sourceDoc).Order("id").Find(&links).Error
	return links, err
}

func (g *GormStore) CreateLinks(ctx context.Context, links []*model.LinkNet) error {
	if len(links) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(links, batchSize).Error
}

func (g *GormStore) DeleteLinksByID(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.LinkNet{}).Error
}

func (g *GormStore) DeleteAllLinks(ctx context.Context, sourceDoc uint) error {
	return g.db.WithContext(ctx).Where("source_doc = ?", sourceDoc).Delete(&model.LinkNet{}).Error
}

func (g *GormStore) ListLinksTo(ctx context.Context, targetDoc uint) ([]*model.LinkNet, error) {
	var links []*model.LinkNet
	err := g.db.WithContext(ctx).Where("target_doc = ? AND source_doc <> ?", targetDoc, targetDoc).
		Order("source_doc, id").Find(&links).Error
	return links, err
}

func (g *GormStore) DeleteLinksTo(ctx context.Context, targetDoc uint) error {
	return g.db.WithContext(ctx).Where("target_doc = ?", targetDoc).Delete(&model.LinkNet{}).Error
}

func (g *GormStore) CountLinksOfType(ctx context.Context, linkType uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.LinkNet{}).Where("link_type = ?", linkType).Count(&count).Error
	return count, err
}

func (g *GormStore) ListFragments(ctx context.Context, docID uint) ([]string, error) {
	var frags []string
	err := g.db.WithContext(ctx).Model(&model.LinkFragment{}).Where("doc_id = ?", docID).
		Order("fragment").Pluck("fragment", &frags).Error
	return frags, err
}

func (g *GormStore) CreateFragments(ctx context.Context, docID uint, frags []string) error {
	if len(frags) == 0 {
		return nil
	}
	rows := make([]*model.LinkFragment, 0, len(frags))
	for _, f := range frags {
		rows = append(rows, &model.LinkFragment{DocID: docID, Fragment: f})
	}
	return g.db.WithContext(ctx).CreateInBatches(rows, batchSize).Error
}

func (g *GormStore) DeleteFragments(ctx context.Context, docID uint, frags []string) error {
	if len(frags) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Where("doc_id = ? AND fragment IN ?", docID, frags).
		Delete(&model.LinkFragment{}).Error
}

func (g *GormStore) DeleteAllFragments(ctx context.Context, docID uint) error {
	return g.db.WithContext(ctx).Where("doc_id = ?", docID).Delete(&model.LinkFragment{}).Error
}

func (g *GormStore) ListQueryTerms(ctx context.Context, table string, docID uint) ([]*model.QueryTerm, error) {
	table, err := queryTermTable(table)
	if err != nil {
		return nil, err
	}
	var terms []*model.QueryTerm
	err = g.db.WithContext(ctx).Table(table).Where("doc_id = ?", docID).Order("id").Find(&terms).Error
	return terms, err
}

func (g *GormStore) CreateQueryTerms(ctx context.Context, table string, terms []*model.QueryTerm) error {
	table, err := queryTermTable(table)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Table(table).CreateInBatches(terms, batchSize).Error
}

func (g *GormStore) DeleteQueryTermsByID(ctx context.Context, table string, ids []uint) error {
	table, err := queryTermTable(table)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Table(table).Where("id IN ?", ids).Delete(&model.QueryTerm{}).Error
}

func (g *GormStore) DeleteAllQueryTerms(ctx context.Context, table string, docID uint) error {
	table, err := queryTermTable(table)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Table(table).Where("doc_id = ?", docID).Delete(&model.QueryTerm{}).Error
}

func (g *GormStore) CountQueryTerms(ctx context.Context, table string, docID uint, path string, value *string) (int64, error) {
	table, err := queryTermTable(table)
	if err != nil {
		return 0, err
	}
	q := g.db.WithContext(ctx).Table(table).Where("doc_id = ? AND path = ?", docID, path)
	if value != nil {
		q = q.Where("value = ?", *value)
	}
	var count int64
	err = q.Count(&count).Error
	return count, err
}

func (g *GormStore) HasFragmentTerm(ctx context.Context, table string, docID uint, fragment string) (bool, error) {
	table, err := queryTermTable(table)
	if err != nil {
		return false, err
	}
	var count int64
	err = g.db.WithContext(ctx).Table(table).
		Where("doc_id = ? AND path LIKE ? AND value = ?", docID, "%/@cdr:id", fragment).
		Count(&count).Error
	return count > 0, err
}

func (g *GormStore) ListQueryTermDefs(ctx context.Context) ([]*model.QueryTermDef, error) {
	var defs []*model.QueryTermDef
	err := g.db.WithContext(ctx).Order("path").Find(&defs).Error
	return defs, err
}

func (g *GormStore) CreateQueryTermDef(ctx context.Context, def *model.QueryTermDef) error {
	return g.db.WithContext(ctx).Create(def).Error
}

func (g *GormStore) DeleteQueryTermDef(ctx context.Context, path string) error {
	res := g.db.WithContext(ctx).Where("path = ?", path).Delete(&model.QueryTermDef{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
