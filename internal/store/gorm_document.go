package store

import (
	"context"
	"time"

	"github.com/emrgen/cdr/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (g *GormStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	return g.db.WithContext(ctx).Create(doc).Error
}

func (g *GormStore) GetDocument(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (g *GormStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	return g.db.WithContext(ctx).Save(doc).Error
}

func (g *GormStore) UpdateDocumentTitle(ctx context.Context, id uint, title string) error {
	return g.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		UpdateColumn("title", title).Error
}

func (g *GormStore) UpdateActiveStatus(ctx context.Context, id uint, status string) error {
	return g.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		UpdateColumn("active_status", status).Error
}

func (g *GormStore) UpdateValStatus(ctx context.Context, id uint, status string, at time.Time) error {
	return g.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"val_status": status, "val_date": at}).Error
}

func (g *GormStore) FindDocumentsByTitle(ctx context.Context, title string, docType *uint) ([]*model.Document, error) {
	var docs []*model.Document
	q := g.db.WithContext(ctx).Select("id", "doc_type", "title", "active_status").
		Where("title = ? AND active_status <> ?", title, model.ActiveStatusDeleted)
	if docType != nil {
		q = q.Where("doc_type = ?", *docType)
	}
	err := q.Order("id").Find(&docs).Error
	return docs, err
}

func (g *GormStore) ListDocumentIDs(ctx context.Context, docType uint) ([]uint, error) {
	var ids []uint
	err := g.db.WithContext(ctx).Model(&model.Document{}).
		Where("doc_type = ? AND active_status <> ?", docType, model.ActiveStatusDeleted).
		Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (g *GormStore) SearchDocuments(ctx context.Context, docTypes []uint, titlePattern string, conds []clause.Expression, limit int) ([]*model.Document, error) {
	var docs []*model.Document
	q := g.db.WithContext(ctx).Select("id", "doc_type", "title").
		Where("active_status = ?", model.ActiveStatusActive)
	if len(docTypes) > 0 {
		q = q.Where("doc_type IN ?", docTypes)
	}
	if titlePattern != "" {
		q = q.Where("title LIKE ?", titlePattern)
	}
	if len(conds) > 0 {
		q = q.Clauses(clause.Where{Exprs: conds})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("title").Find(&docs).Error
	return docs, err
}

func (g *GormStore) CreateVersion(ctx context.Context, v *model.DocVersion) error {
	return g.db.WithContext(ctx).Create(v).Error
}

func (g *GormStore) GetVersion(ctx context.Context, id uint, num int) (*model.DocVersion, error) {
	var v model.DocVersion
	err := g.db.WithContext(ctx).Where("id = ? AND num = ?", id, num).First(&v).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (g *GormStore) LastVersion(ctx context.Context, id uint, publishable bool) (int, error) {
	q := g.db.WithContext(ctx).Model(&model.DocVersion{}).Where("id = ?", id)
	if publishable {
		q = q.Where("publishable = ?", model.Yes)
	}
	return maxNum(q)
}

func (g *GormStore) LastVersionBefore(ctx context.Context, id uint, before time.Time) (int, error) {
	q := g.db.WithContext(ctx).Model(&model.DocVersion{}).
		Where("id = ? AND updated_dt < ?", id, before)
	return maxNum(q)
}

func (g *GormStore) CountPublishableVersions(ctx context.Context, id uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.DocVersion{}).
		Where("id = ? AND publishable = ?", id, model.Yes).Count(&count).Error
	return count, err
}

func maxNum(q *gorm.DB) (int, error) {
	var num *int
	if err := q.Select("MAX(num)").Scan(&num).Error; err != nil {
		return 0, err
	}
	if num == nil {
		return 0, nil
	}
	return *num, nil
}

func (g *GormStore) CreateBlob(ctx context.Context, blob *model.DocBlob) error {
	return g.db.WithContext(ctx).Create(blob).Error
}

func (g *GormStore) GetDocBlob(ctx context.Context, docID uint) (*model.DocBlob, error) {
	var usage model.DocBlobUsage
	err := g.db.WithContext(ctx).Where("doc_id = ?", docID).Limit(1).Find(&usage).Error
	if err != nil || usage.BlobID == 0 {
		return nil, err
	}
	return g.getBlob(ctx, usage.BlobID)
}

func (g *GormStore) GetVersionBlob(ctx context.Context, docID uint, num int) (*model.DocBlob, error) {
	var usage model.VersionBlobUsage
	err := g.db.WithContext(ctx).Where("doc_id = ? AND doc_version = ?", docID, num).Limit(1).Find(&usage).Error
	if err != nil || usage.BlobID == 0 {
		return nil, err
	}
	return g.getBlob(ctx, usage.BlobID)
}

func (g *GormStore) getBlob(ctx context.Context, id uint) (*model.DocBlob, error) {
	var blob model.DocBlob
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&blob).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &blob, nil
}

func (g *GormStore) SetDocBlobUsage(ctx context.Context, docID, blobID uint) error {
	return g.db.WithContext(ctx).Save(&model.DocBlobUsage{DocID: docID, BlobID: blobID}).Error
}

func (g *GormStore) CreateVersionBlobUsage(ctx context.Context, usage *model.VersionBlobUsage) error {
	return g.db.WithContext(ctx).Create(usage).Error
}

func (g *GormStore) PurgeBlobs(ctx context.Context, docID uint) error {
	db := g.db.WithContext(ctx)

	var ids []uint
	if err := db.Model(&model.VersionBlobUsage{}).Where("doc_id = ?", docID).Pluck("blob_id", &ids).Error; err != nil {
		return err
	}
	var current []uint
	if err := db.Model(&model.DocBlobUsage{}).Where("doc_id = ?", docID).Pluck("blob_id", &current).Error; err != nil {
		return err
	}
	ids = append(ids, current...)

	if err := db.Where("doc_id = ?", docID).Delete(&model.VersionBlobUsage{}).Error; err != nil {
		return err
	}
	if err := db.Where("doc_id = ?", docID).Delete(&model.DocBlobUsage{}).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	return db.Where("id IN ?", ids).Delete(&model.DocBlob{}).Error
}

func (g *GormStore) GetActiveCheckout(ctx context.Context, docID uint) (*model.Checkout, error) {
	var c model.Checkout
	err := g.db.WithContext(ctx).Where("doc_id = ? AND dt_in IS NULL", docID).
		Order("dt_out desc").Limit(1).Find(&c).Error
	if err != nil || c.ID == 0 {
		return nil, err
	}
	return &c, nil
}

func (g *GormStore) CreateCheckout(ctx context.Context, c *model.Checkout) error {
	return g.db.WithContext(ctx).Create(c).Error
}

func (g *GormStore) CloseCheckout(ctx context.Context, id uint, at time.Time, version *int, comment string) error {
	updates := map[string]any{"dt_in": at, "version": version}
	if comment != "" {
		updates["comment"] = comment
	}
	return g.db.WithContext(ctx).Model(&model.Checkout{}).Where("id = ?", id).UpdateColumns(updates).Error
}
