// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"
	"fmt"
	"time"

	"studymate-go/internal/model"

	"gorm.io/gorm"
)

// ErrInvalidTransition 表示请求的文档状态迁移不被状态机允许。
var ErrInvalidTransition = errors.New("invalid document status transition")

// DocumentRepository 接口定义了 documents 表的数据持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	Get(documentID string) (*model.Document, error)
	GetOwned(documentID string, ownerID uint) (*model.Document, error)
	FindByOwner(ownerID uint) ([]model.Document, error)
	FindBatchByIDs(ids []string) ([]*model.Document, error)
	// GetHash 返回文档当前的内容哈希；文档不存在或已删除时 found 为 false。
	GetHash(documentID string) (hash string, found bool, err error)
	Save(doc *model.Document) error
	// RecordIngested 在摄取成功后落盘：状态置为 ready，记录哈希与分块数。
	RecordIngested(documentID, contentHash string, chunkCount int) error
	// MarkPending 在重新上传时把文档放回待摄取状态。
	MarkPending(documentID string) error
	MarkFailed(documentID, reason string) error
	MarkDeleted(documentID string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// Get 按主键检索文档记录。
func (r *documentRepository) Get(documentID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("document_id = ?", documentID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetOwned 检索属于指定用户的文档记录。
func (r *documentRepository) GetOwned(documentID string, ownerID uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("document_id = ? AND owner_id = ?", documentID, ownerID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwner 查找指定用户的所有文档，已删除的不返回。
func (r *documentRepository) FindByOwner(ownerID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("owner_id = ? AND status <> ?", ownerID, model.StatusDeleted).
		Order("created_at asc").Find(&docs).Error
	return docs, err
}

// FindBatchByIDs 按文档 ID 批量查询，用于检索结果的文件名回填。
func (r *documentRepository) FindBatchByIDs(ids []string) ([]*model.Document, error) {
	var docs []*model.Document
	if len(ids) == 0 {
		return docs, nil
	}
	err := r.db.Where("document_id IN ?", ids).Find(&docs).Error
	return docs, err
}

// GetHash 返回文档当前的内容哈希。重新摄取前的幂等检查依赖此方法。
func (r *documentRepository) GetHash(documentID string) (string, bool, error) {
	var doc model.Document
	err := r.db.Select("content_hash", "status").Where("document_id = ?", documentID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if doc.Status == model.StatusDeleted {
		return "", false, nil
	}
	return doc.ContentHash, true, nil
}

// Save 更新一条文档记录。
func (r *documentRepository) Save(doc *model.Document) error {
	return r.db.Save(doc).Error
}

// RecordIngested 将文档置为 ready 并记录摄取结果。
// 在事务内校验状态迁移，防止并发摄取互相覆盖。
func (r *documentRepository) RecordIngested(documentID, contentHash string, chunkCount int) error {
	now := time.Now()
	return r.transition(documentID, model.StatusReady, func(doc *model.Document) {
		doc.ContentHash = contentHash
		doc.ChunkCount = chunkCount
		doc.FailReason = ""
		doc.IngestedAt = &now
	})
}

// MarkPending 将文档放回待摄取状态，清除上一次的失败原因。
func (r *documentRepository) MarkPending(documentID string) error {
	return r.transition(documentID, model.StatusPending, func(doc *model.Document) {
		doc.FailReason = ""
	})
}

// MarkFailed 将文档置为 failed 并记录可读的失败原因。
// 不清空 ContentHash 与 ChunkCount：重摄取失败时上一个就绪版本仍然可查。
func (r *documentRepository) MarkFailed(documentID, reason string) error {
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return r.transition(documentID, model.StatusFailed, func(doc *model.Document) {
		doc.FailReason = reason
	})
}

// MarkDeleted 将文档置为 deleted。任意状态均可删除。
func (r *documentRepository) MarkDeleted(documentID string) error {
	return r.transition(documentID, model.StatusDeleted, func(doc *model.Document) {
		doc.ChunkCount = 0
	})
}

// transition 在事务内加载、校验并更新文档状态。
func (r *documentRepository) transition(documentID, to string, mutate func(*model.Document)) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if err := tx.Where("document_id = ?", documentID).First(&doc).Error; err != nil {
			return err
		}
		if !model.CanTransition(doc.Status, to) {
			return fmt.Errorf("%w: %s -> %s (document_id=%s)", ErrInvalidTransition, doc.Status, to, documentID)
		}
		doc.Status = to
		mutate(&doc)
		return tx.Save(&doc).Error
	})
}
