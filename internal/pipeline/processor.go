package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"studymate-go/internal/config"
	"studymate-go/internal/index"
	"studymate-go/internal/model"
	"studymate-go/internal/repository"
	"studymate-go/pkg/embedding"
	"studymate-go/pkg/log"
	"studymate-go/pkg/tasks"
)

// 摄取租约的有效期。兜底值，正常流程在 Process 返回时主动释放。
const leaseTTL = 10 * time.Minute

// BlobStore 抽象了原始文档字节的来源（MinIO）。
type BlobStore interface {
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// TextExtractor 抽象了文本提取服务（Tika）。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// Processor 封装了文档摄取的所有依赖和逻辑。
// 每次摄取经历 Received→Chunking→Embedding→Committing→Ready，
// 任一阶段失败进入 Failed；失败不影响该文档已就绪的旧版本。
type Processor struct {
	blob      BlobStore
	extractor TextExtractor
	embedder  embedding.Client
	docRepo   repository.DocumentRepository
	chunkRepo repository.ChunkRepository
	stateRepo repository.IngestStateRepository
	idx       index.Index
	splitter  Splitter
	embCfg    config.EmbeddingConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	blob BlobStore,
	extractor TextExtractor,
	embedder embedding.Client,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	stateRepo repository.IngestStateRepository,
	idx index.Index,
	splitter Splitter,
	embCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		blob:      blob,
		extractor: extractor,
		embedder:  embedder,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		stateRepo: stateRepo,
		idx:       idx,
		splitter:  splitter,
		embCfg:    embCfg,
	}
}

// ChunkKey 生成分块的全局唯一标识。内容哈希包含在键中，
// 因此每个摄取版本的键都是全新的，不会覆盖旧版本。
func ChunkKey(documentID, revision string, seq int) string {
	return fmt.Sprintf("%s_%s_%d", documentID, revision, seq)
}

// Process 是文档摄取的主函数。
// 返回 error 表示可重投的暂时性失败；终态失败在内部标记后返回 nil。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, FileName: %s, Revision: %s", task.DocumentID, task.FileName, task.ContentHash)

	// 获取本文档的摄取租约，串行化同一文档的并发变更
	acquired, err := p.stateRepo.AcquireLease(ctx, task.DocumentID, leaseTTL)
	if err != nil {
		return fmt.Errorf("获取摄取租约失败: %w", err)
	}
	if !acquired {
		return fmt.Errorf("文档 %s 正在被其他消费者摄取", task.DocumentID)
	}
	defer func() {
		if err := p.stateRepo.ReleaseLease(context.Background(), task.DocumentID); err != nil {
			log.Warnf("[Processor] 释放摄取租约失败, DocumentID: %s, err: %v", task.DocumentID, err)
		}
	}()

	// 过期检查：该版本已被更新的上传取代时直接丢弃，不提交任何内容
	if stale, err := p.isStale(ctx, task); err != nil {
		return err
	} else if stale {
		log.Infof("[Processor] 任务版本已被新上传取代，丢弃, DocumentID: %s, Revision: %s", task.DocumentID, task.ContentHash)
		return nil
	}

	// 幂等检查：该版本已摄取完成则为 no-op
	prevHash, found, err := p.docRepo.GetHash(task.DocumentID)
	if err != nil {
		return fmt.Errorf("查询文档哈希失败: %w", err)
	}
	if !found {
		// 文档在任务排队期间被删除
		log.Infof("[Processor] 文档已不存在，丢弃任务, DocumentID: %s", task.DocumentID)
		return nil
	}
	if prevHash == task.ContentHash {
		log.Infof("[Processor] 文档版本已是最新，跳过摄取, DocumentID: %s", task.DocumentID)
		return nil
	}

	// 1. 从对象存储下载原始文件
	object, err := p.blob.Get(ctx, task.ObjectName)
	if err != nil {
		return fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	object.Close()
	if err != nil {
		return fmt.Errorf("读取对象流失败: %w", err)
	}
	if size == 0 {
		return p.fail(task, prevHash, "文件内容为空")
	}

	// 2. 使用 Tika 提取文本
	textContent, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.FileName)
	if err != nil {
		return fmt.Errorf("提取文本失败: %w", err)
	}
	if textContent == "" {
		return p.fail(task, prevHash, "提取的文本内容为空")
	}
	log.Infof("[Processor] 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 3. 文本分块
	pieces := p.splitter.Split(textContent)
	if len(pieces) == 0 {
		return p.fail(task, prevHash, "未生成任何文本分块")
	}
	log.Infof("[Processor] 文本分块完成, 共 %d 个分块 (maxChars=%d, overlap=%d)", len(pieces), p.splitter.MaxChars, p.splitter.Overlap)

	// 4. 向量化：有界并发 + 有限次退避重试
	vectors, err := p.embedPieces(ctx, pieces)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			return p.fail(task, prevHash, fmt.Sprintf("embedding 服务不可用（已重试 %d 次）: %v", p.embCfg.MaxRetries, err))
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return p.fail(task, prevHash, fmt.Sprintf("向量化失败: %v", err))
	}

	// 提交前再次确认版本未被取代，避免把过期向量写入索引
	if stale, err := p.isStale(ctx, task); err != nil {
		return err
	} else if stale {
		log.Infof("[Processor] 向量化期间版本被取代，丢弃, DocumentID: %s", task.DocumentID)
		return nil
	}

	// 5. 提交：先写入新版本的分块与向量，确认无误后翻转版本指针，
	//    最后清理旧版本。切换前后查询要么看到旧版本，要么看到新版本。
	if err := p.commit(ctx, task, pieces, vectors, prevHash); err != nil {
		return err
	}

	log.Infof("[Processor] 文档摄取成功, DocumentID: %s, 分块数: %d", task.DocumentID, len(pieces))
	return nil
}

// Abandon 在投递重试耗尽后将文档标记为失败。
func (p *Processor) Abandon(ctx context.Context, task tasks.IngestTask, reason string) {
	prevHash, _, err := p.docRepo.GetHash(task.DocumentID)
	if err != nil {
		log.Errorf("[Processor] Abandon 查询文档哈希失败, DocumentID: %s, err: %v", task.DocumentID, err)
	}
	if err := p.fail(task, prevHash, "摄取重试次数耗尽: "+reason); err != nil {
		log.Errorf("[Processor] Abandon 标记失败出错, DocumentID: %s, err: %v", task.DocumentID, err)
	}
}

// isStale 判断任务的版本是否已被更新的上传取代。
func (p *Processor) isStale(ctx context.Context, task tasks.IngestTask) (bool, error) {
	latest, err := p.stateRepo.GetLatestRevision(ctx, task.DocumentID)
	if err != nil {
		return false, fmt.Errorf("查询最新上传版本失败: %w", err)
	}
	return latest != "" && latest != task.ContentHash, nil
}

// embedPieces 将分块按批向量化。批之间以有界并发执行，
// 单批失败会取消其余批次；重试只针对暂时性不可用。
func (p *Processor) embedPieces(ctx context.Context, pieces []Piece) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type batch struct{ start, end int }
	var batches []batch
	for start := 0; start < len(pieces); start += p.embCfg.BatchSize {
		end := start + p.embCfg.BatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		batches = append(batches, batch{start, end})
	}

	vectors := make([][]float32, len(pieces))
	sem := make(chan struct{}, p.embCfg.Concurrency)
	errCh := make(chan error, len(batches))

	for _, b := range batches {
		sem <- struct{}{}
		go func(b batch) {
			defer func() { <-sem }()

			texts := make([]string, 0, b.end-b.start)
			for _, piece := range pieces[b.start:b.end] {
				texts = append(texts, piece.Text)
			}

			vecs, err := p.embedWithRetry(ctx, texts)
			if err != nil {
				cancel() // 让其余批次尽快停下
				errCh <- err
				return
			}
			for i, v := range vecs {
				if len(v) != p.embedder.Dimensions() {
					cancel()
					errCh <- fmt.Errorf("%w: got %d, expected %d", index.ErrDimensionMismatch, len(v), p.embedder.Dimensions())
					return
				}
				vectors[b.start+i] = v
			}
			errCh <- nil
		}(b)
	}

	for range batches {
		if err := <-errCh; err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// embedWithRetry 对一批文本做向量化，暂时性失败按线性退避重试。
func (p *Processor) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := time.Duration(p.embCfg.BackoffMs) * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= p.embCfg.MaxRetries; attempt++ {
		vecs, err := p.embedder.CreateEmbeddings(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !errors.Is(err, embedding.ErrUnavailable) {
			return nil, err
		}
		log.Warnf("[Processor] embedding 暂时不可用 (第 %d/%d 次): %v", attempt, p.embCfg.MaxRetries, err)
		if attempt == p.embCfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

// commit 写入新版本并翻转版本指针。索引与存储的互斥只覆盖写入本身，
// 不跨越任何外部调用。
func (p *Processor) commit(ctx context.Context, task tasks.IngestTask, pieces []Piece, vectors [][]float32, prevHash string) error {
	chunks := make([]*model.DocumentChunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, &model.DocumentChunk{
			ChunkKey:    ChunkKey(task.DocumentID, task.ContentHash, piece.Seq),
			DocumentID:  task.DocumentID,
			Revision:    task.ContentHash,
			Seq:         piece.Seq,
			Offset:      piece.Offset,
			Length:      piece.Length,
			TextContent: piece.Text,
			OwnerID:     task.OwnerID,
		})
	}

	if err := p.chunkRepo.BatchCreate(chunks); err != nil {
		p.rollbackRevision(task, prevHash)
		return fmt.Errorf("批量保存文本分块失败: %w", err)
	}

	for i, chunk := range chunks {
		entry := index.Entry{
			ChunkKey:   chunk.ChunkKey,
			DocumentID: task.DocumentID,
			OwnerID:    task.OwnerID,
			Seq:        chunk.Seq,
			Revision:   task.ContentHash,
			Vector:     vectors[i],
		}
		if err := p.idx.Insert(ctx, entry); err != nil {
			p.rollbackRevision(task, prevHash)
			if errors.Is(err, index.ErrDimensionMismatch) {
				return p.fail(task, prevHash, fmt.Sprintf("向量维度不一致: %v", err))
			}
			return fmt.Errorf("索引分块 %d 失败: %w", chunk.Seq, err)
		}
	}

	// 提交校验：索引条目数必须与分块数一致
	count, err := p.idx.CountByDocument(ctx, task.DocumentID, task.ContentHash)
	if err != nil {
		p.rollbackRevision(task, prevHash)
		return fmt.Errorf("索引条目计数失败: %w", err)
	}
	if count != len(chunks) {
		p.rollbackRevision(task, prevHash)
		return p.fail(task, prevHash, fmt.Sprintf("索引条目数 %d 与分块数 %d 不一致", count, len(chunks)))
	}

	// 翻转版本指针：此后查询即可看到新版本
	if err := p.docRepo.RecordIngested(task.DocumentID, task.ContentHash, len(chunks)); err != nil {
		p.rollbackRevision(task, prevHash)
		return fmt.Errorf("记录摄取结果失败: %w", err)
	}

	// 清理旧版本。失败只影响存储占用，不影响查询正确性。
	if err := p.chunkRepo.DeleteStaleRevisions(task.DocumentID, task.ContentHash); err != nil {
		log.Warnf("[Processor] 清理旧版本分块失败, DocumentID: %s, err: %v", task.DocumentID, err)
	}
	if err := p.idx.DeleteStaleRevisions(ctx, task.DocumentID, task.ContentHash); err != nil {
		log.Warnf("[Processor] 清理旧版本索引条目失败, DocumentID: %s, err: %v", task.DocumentID, err)
	}
	return nil
}

// rollbackRevision 删除提交中途失败的新版本内容，保留上一个完好版本。
// 失败的摄取必须不留下任何部分分块。
func (p *Processor) rollbackRevision(task tasks.IngestTask, prevHash string) {
	bgCtx := context.Background()
	if err := p.chunkRepo.DeleteStaleRevisions(task.DocumentID, prevHash); err != nil {
		log.Errorf("[Processor] 回滚分块记录失败, DocumentID: %s, err: %v", task.DocumentID, err)
	}
	if err := p.idx.DeleteStaleRevisions(bgCtx, task.DocumentID, prevHash); err != nil {
		log.Errorf("[Processor] 回滚索引条目失败, DocumentID: %s, err: %v", task.DocumentID, err)
	}
}

// fail 将文档标记为失败并留下可读原因。终态失败返回 nil 语义由调用方决定，
// 这里返回 nil 让消费者提交 offset，不再重投。
func (p *Processor) fail(task tasks.IngestTask, prevHash string, reason string) error {
	log.Errorf("[Processor] 文档摄取失败, DocumentID: %s, 原因: %s", task.DocumentID, reason)
	p.rollbackRevision(task, prevHash)
	if err := p.docRepo.MarkFailed(task.DocumentID, reason); err != nil {
		log.Errorf("[Processor] 标记文档失败状态出错, DocumentID: %s, err: %v", task.DocumentID, err)
	}
	return nil
}
