package repository

import (
	"studymate-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
// 分块按 (document_id, revision) 成组管理，整组写入、整组删除。
type ChunkRepository interface {
	BatchCreate(chunks []*model.DocumentChunk) error
	FindByKeys(keys []string) ([]*model.DocumentChunk, error)
	FindByDocumentRevision(documentID, revision string) ([]*model.DocumentChunk, error)
	CountByDocumentRevision(documentID, revision string) (int64, error)
	DeleteByDocument(documentID string) error
	DeleteStaleRevisions(documentID, keepRevision string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *chunkRepository) BatchCreate(chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByKeys 按 chunk_key 批量查询，用于检索命中后的文本回填。
func (r *chunkRepository) FindByKeys(keys []string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	if len(keys) == 0 {
		return chunks, nil
	}
	err := r.db.Where("chunk_key IN ?", keys).Find(&chunks).Error
	return chunks, err
}

// FindByDocumentRevision 返回指定文档版本的全部分块，按 seq 升序。
func (r *chunkRepository) FindByDocumentRevision(documentID, revision string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	err := r.db.Where("document_id = ? AND revision = ?", documentID, revision).
		Order("seq asc").Find(&chunks).Error
	return chunks, err
}

// CountByDocumentRevision 返回指定文档版本的分块数。
func (r *chunkRepository) CountByDocumentRevision(documentID, revision string) (int64, error) {
	var count int64
	err := r.db.Model(&model.DocumentChunk{}).
		Where("document_id = ? AND revision = ?", documentID, revision).
		Count(&count).Error
	return count, err
}

// DeleteByDocument 删除指定文档的全部分块记录。
func (r *chunkRepository) DeleteByDocument(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error
}

// DeleteStaleRevisions 删除指定文档中非当前版本的分块记录。
func (r *chunkRepository) DeleteStaleRevisions(documentID, keepRevision string) error {
	return r.db.Where("document_id = ? AND revision <> ?", documentID, keepRevision).
		Delete(&model.DocumentChunk{}).Error
}
