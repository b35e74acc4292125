package service

import (
	"context"
	"fmt"
	"strings"

	"studymate-go/internal/index"
	"studymate-go/internal/model"
	"studymate-go/internal/repository"
	"studymate-go/pkg/embedding"
	"studymate-go/pkg/log"
)

// 命中过滤会丢弃过期版本的条目，多取一些避免结果不足 topK。
const overFetchFactor = 3

// RetrievalService 实现向量检索：查询向量化一次，在用户自己的
// 索引条目中取相似度最高的分块并回填原文。
type RetrievalService interface {
	Retrieve(ctx context.Context, ownerID uint, query string, topK int) ([]model.ContextPassage, error)
}

type retrievalService struct {
	embedder    embedding.Client
	idx         index.Index
	chunkRepo   repository.ChunkRepository
	docRepo     repository.DocumentRepository
	defaultTopK int
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	embedder embedding.Client,
	idx index.Index,
	chunkRepo repository.ChunkRepository,
	docRepo repository.DocumentRepository,
	defaultTopK int,
) RetrievalService {
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &retrievalService{
		embedder:    embedder,
		idx:         idx,
		chunkRepo:   chunkRepo,
		docRepo:     docRepo,
		defaultTopK: defaultTopK,
	}
}

// Retrieve 返回与查询最相关的至多 topK 个文本段落，按相似度降序。
// 空查询或索引为空时返回空切片。只有文档最近一次成功摄取的版本
// 会出现在结果里，摄取中或摄取失败的新版本不可见。
func (s *retrievalService) Retrieve(ctx context.Context, ownerID uint, query string, topK int) ([]model.ContextPassage, error) {
	passages := []model.ContextPassage{}
	if strings.TrimSpace(query) == "" {
		return passages, nil
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}

	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	matches, err := s.idx.Search(ctx, vector, topK*overFetchFactor, ownerID)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	if len(matches) == 0 {
		return passages, nil
	}

	// 批量取文档记录，把命中钉在各文档当前已摄取的版本上
	docIDSet := make(map[string]struct{})
	for _, m := range matches {
		docIDSet[m.DocumentID] = struct{}{}
	}
	docIDs := make([]string, 0, len(docIDSet))
	for id := range docIDSet {
		docIDs = append(docIDs, id)
	}
	docs, err := s.docRepo.FindBatchByIDs(docIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询文档记录失败: %w", err)
	}
	docByID := make(map[string]*model.Document, len(docs))
	for _, d := range docs {
		docByID[d.DocumentID] = d
	}

	visible := matches[:0]
	for _, m := range matches {
		doc, ok := docByID[m.DocumentID]
		if !ok || doc.Status == model.StatusDeleted {
			continue
		}
		// ContentHash 为空说明该文档从未成功摄取
		if doc.ContentHash == "" || m.Revision != doc.ContentHash {
			continue
		}
		visible = append(visible, m)
		if len(visible) == topK {
			break
		}
	}

	if len(visible) == 0 {
		return passages, nil
	}

	// 回填分块原文
	keys := make([]string, 0, len(visible))
	for _, m := range visible {
		keys = append(keys, m.ChunkKey)
	}
	chunks, err := s.chunkRepo.FindByKeys(keys)
	if err != nil {
		return nil, fmt.Errorf("批量查询分块失败: %w", err)
	}
	chunkByKey := make(map[string]*model.DocumentChunk, len(chunks))
	for _, c := range chunks {
		chunkByKey[c.ChunkKey] = c
	}

	for _, m := range visible {
		chunk, ok := chunkByKey[m.ChunkKey]
		if !ok {
			// 索引里有条目但分块记录缺失：索引损坏，跳过并告警，
			// 重新上传该文档即可重建
			log.Errorf("[RetrievalService] 索引损坏：分块记录缺失, ChunkKey: %s, DocumentID: %s", m.ChunkKey, m.DocumentID)
			continue
		}
		passages = append(passages, model.ContextPassage{
			DocumentID:  m.DocumentID,
			FileName:    docByID[m.DocumentID].FileName,
			Seq:         m.Seq,
			TextContent: chunk.TextContent,
			Score:       m.Score,
		})
	}
	return passages, nil
}
