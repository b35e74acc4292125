// Package service 实现了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"studymate-go/internal/index"
	"studymate-go/internal/model"
	"studymate-go/internal/repository"
	"studymate-go/pkg/log"
	"studymate-go/pkg/tasks"

	"gorm.io/gorm"
)

var (
	// ErrEmptyDocument 表示上传的文件内容为空。
	ErrEmptyDocument = errors.New("document content is empty")
	// ErrDocumentNotFound 表示文档不存在或不属于该用户。
	ErrDocumentNotFound = errors.New("document not found")
)

// TaskProducer 抽象了摄取任务的投递（Kafka）。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// ObjectStore 抽象了原始文档字节的存取（MinIO）。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64) error
	Remove(ctx context.Context, objectName string) error
}

// DocumentService 定义了文档生命周期的业务操作。
// 上传是异步的：落库、存对象、发任务后立即返回 pending，
// 实际的分块与向量化由消费端的 Processor 完成。
type DocumentService interface {
	Upload(ctx context.Context, ownerID uint, fileName string, content []byte) (*model.DocumentDTO, error)
	List(ctx context.Context, ownerID uint) ([]model.DocumentDTO, error)
	Get(ctx context.Context, ownerID uint, documentID string) (*model.DocumentDTO, error)
	Delete(ctx context.Context, ownerID uint, documentID string) error
}

type documentService struct {
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	stateRepo repository.IngestStateRepository
	idx       index.Index
	store     ObjectStore
	producer  TaskProducer
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	stateRepo repository.IngestStateRepository,
	idx index.Index,
	store ObjectStore,
	producer TaskProducer,
) DocumentService {
	return &documentService{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		stateRepo: stateRepo,
		idx:       idx,
		store:     store,
		producer:  producer,
	}
}

// DocumentID 由 owner 与文件名派生，同名重传时保持稳定。
func DocumentID(ownerID uint, fileName string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d:%s", ownerID, fileName)))
	return hex.EncodeToString(sum[:])
}

// ContentHash 是原始字节的 MD5，作为文档版本号。
func ContentHash(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

func objectName(documentID, contentHash string) string {
	return fmt.Sprintf("raw/%s/%s", documentID, contentHash)
}

// Upload 接收一份文档并排队摄取。
// 同一 (owner, fileName) 的相同字节是 no-op；字节变化时旧版本在
// 新版本就绪前保持可查。
func (s *documentService) Upload(ctx context.Context, ownerID uint, fileName string, content []byte) (*model.DocumentDTO, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}

	documentID := DocumentID(ownerID, fileName)
	contentHash := ContentHash(content)

	doc, err := s.docRepo.Get(documentID)
	switch {
	case err == nil:
		dto, enqueue, err := s.prepareExisting(ctx, doc, contentHash)
		if err != nil || !enqueue {
			return dto, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		doc = &model.Document{
			DocumentID: documentID,
			OwnerID:    ownerID,
			FileName:   fileName,
			Status:     model.StatusPending,
		}
		if err := s.docRepo.Create(doc); err != nil {
			return nil, fmt.Errorf("创建文档记录失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("查询文档记录失败: %w", err)
	}

	object := objectName(documentID, contentHash)
	if err := s.store.Put(ctx, object, bytes.NewReader(content), int64(len(content))); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	// 先更新最新版本标记再投递任务，保证旧任务能及早发现自己过期
	if err := s.stateRepo.SetLatestRevision(ctx, documentID, contentHash); err != nil {
		return nil, fmt.Errorf("记录最新上传版本失败: %w", err)
	}

	task := tasks.IngestTask{
		DocumentID:  documentID,
		OwnerID:     ownerID,
		FileName:    fileName,
		ContentHash: contentHash,
		ObjectName:  object,
	}
	if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档已排队摄取, DocumentID: %s, FileName: %s, Hash: %s", documentID, fileName, contentHash)
	doc.Status = model.StatusPending
	dto := toDTO(doc)
	return &dto, nil
}

// prepareExisting 处理已有记录的重新上传。
// 返回 enqueue=false 表示无需排队（相同版本已就绪或已在队列中）。
func (s *documentService) prepareExisting(ctx context.Context, doc *model.Document, contentHash string) (*model.DocumentDTO, bool, error) {
	if doc.Status == model.StatusDeleted {
		// 删除后重新上传：复位整条记录，视作新文档
		doc.Status = model.StatusPending
		doc.ContentHash = ""
		doc.ChunkCount = 0
		doc.FailReason = ""
		doc.IngestedAt = nil
		if err := s.docRepo.Save(doc); err != nil {
			return nil, false, fmt.Errorf("复位已删除文档失败: %w", err)
		}
		return nil, true, nil
	}

	// 相同字节且已就绪：幂等 no-op
	if doc.Status == model.StatusReady && doc.ContentHash == contentHash {
		log.Infof("[DocumentService] 文档内容未变化，跳过摄取, DocumentID: %s", doc.DocumentID)
		dto := toDTO(doc)
		return &dto, false, nil
	}

	// pending 的重新上传总是重新投递：任务可能在上次上传时没有投递成功，
	// 重复任务由消费端的租约与哈希检查消化为 no-op
	if doc.Status == model.StatusPending {
		return nil, true, nil
	}

	// ready（内容变化）或 failed：放回待摄取状态
	if err := s.docRepo.MarkPending(doc.DocumentID); err != nil {
		return nil, false, fmt.Errorf("更新文档状态失败: %w", err)
	}
	return nil, true, nil
}

// List 返回用户的所有文档（已删除的除外）。
func (s *documentService) List(ctx context.Context, ownerID uint) ([]model.DocumentDTO, error) {
	docs, err := s.docRepo.FindByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("查询文档列表失败: %w", err)
	}
	dtos := make([]model.DocumentDTO, 0, len(docs))
	for i := range docs {
		dtos = append(dtos, toDTO(&docs[i]))
	}
	return dtos, nil
}

// Get 返回单个文档的状态。
func (s *documentService) Get(ctx context.Context, ownerID uint, documentID string) (*model.DocumentDTO, error) {
	doc, err := s.docRepo.GetOwned(documentID, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.Status == model.StatusDeleted {
		return nil, ErrDocumentNotFound
	}
	dto := toDTO(doc)
	return &dto, nil
}

// Delete 移除文档及其全部派生数据。
// 顺序：索引条目 → 分块记录 → 原始对象 → 状态标记。
// 索引条目删除后该文档立即从查询结果中消失。
func (s *documentService) Delete(ctx context.Context, ownerID uint, documentID string) error {
	doc, err := s.docRepo.GetOwned(documentID, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	if doc.Status == model.StatusDeleted {
		return ErrDocumentNotFound
	}

	if err := s.idx.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("删除索引条目失败: %w", err)
	}
	if err := s.chunkRepo.DeleteByDocument(documentID); err != nil {
		return fmt.Errorf("删除分块记录失败: %w", err)
	}

	// 已摄取版本和尚未摄取完成的最新上传版本可能是两个不同的对象
	if doc.ContentHash != "" {
		if err := s.store.Remove(ctx, objectName(documentID, doc.ContentHash)); err != nil {
			log.Warnf("[DocumentService] 删除原始对象失败, DocumentID: %s, err: %v", documentID, err)
		}
	}
	if latest, err := s.stateRepo.GetLatestRevision(ctx, documentID); err == nil && latest != "" && latest != doc.ContentHash {
		if err := s.store.Remove(ctx, objectName(documentID, latest)); err != nil {
			log.Warnf("[DocumentService] 删除未完成版本对象失败, DocumentID: %s, err: %v", documentID, err)
		}
	}

	if err := s.docRepo.MarkDeleted(documentID); err != nil {
		return fmt.Errorf("标记文档删除失败: %w", err)
	}
	if err := s.stateRepo.ClearLatestRevision(ctx, documentID); err != nil {
		log.Warnf("[DocumentService] 清理版本标记失败, DocumentID: %s, err: %v", documentID, err)
	}

	log.Infof("[DocumentService] 文档已删除, DocumentID: %s, FileName: %s", documentID, doc.FileName)
	return nil
}

func toDTO(doc *model.Document) model.DocumentDTO {
	ingestedAt := ""
	if doc.IngestedAt != nil {
		ingestedAt = doc.IngestedAt.Format(time.RFC3339)
	}
	return model.DocumentDTO{
		DocumentID: doc.DocumentID,
		FileName:   doc.FileName,
		Status:     doc.Status,
		FailReason: doc.FailReason,
		ChunkCount: doc.ChunkCount,
		IngestedAt: ingestedAt,
	}
}
