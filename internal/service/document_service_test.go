package service

import (
	"context"
	"errors"
	"testing"

	"studymate-go/internal/index"
	"studymate-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type documentEnv struct {
	svc       DocumentService
	docRepo   *fakeDocRepo
	chunkRepo *fakeChunkRepo
	stateRepo *fakeStateRepo
	idx       *index.BruteForce
	store     *fakeObjectStore
	producer  *fakeProducer
}

func newDocumentEnv() *documentEnv {
	env := &documentEnv{
		docRepo:   newFakeDocRepo(),
		chunkRepo: newFakeChunkRepo(),
		stateRepo: newFakeStateRepo(),
		idx:       index.NewBruteForce(2),
		store:     newFakeObjectStore(),
		producer:  &fakeProducer{},
	}
	env.svc = NewDocumentService(env.docRepo, env.chunkRepo, env.stateRepo, env.idx, env.store, env.producer)
	return env
}

func TestDocumentIDStable(t *testing.T) {
	assert.Equal(t, DocumentID(1, "notes.txt"), DocumentID(1, "notes.txt"))
	assert.NotEqual(t, DocumentID(1, "notes.txt"), DocumentID(2, "notes.txt"))
	assert.NotEqual(t, DocumentID(1, "notes.txt"), DocumentID(1, "other.txt"))
}

func TestUploadRejectsEmptyContent(t *testing.T) {
	env := newDocumentEnv()
	_, err := env.svc.Upload(context.Background(), 1, "notes.txt", nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
	assert.Empty(t, env.producer.produced())
}

func TestUploadQueuesNewDocument(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	content := []byte("细胞通过光合作用把光能转化为化学能。")

	dto, err := env.svc.Upload(ctx, 1, "bio.txt", content)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, dto.Status)

	docID := DocumentID(1, "bio.txt")
	hash := ContentHash(content)

	// 原始字节进入对象存储
	assert.True(t, env.store.has("raw/"+docID+"/"+hash))

	// 版本标记已更新
	latest, err := env.stateRepo.GetLatestRevision(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, hash, latest)

	// 摄取任务已投递且携带完整上下文
	produced := env.producer.produced()
	require.Len(t, produced, 1)
	assert.Equal(t, docID, produced[0].DocumentID)
	assert.Equal(t, uint(1), produced[0].OwnerID)
	assert.Equal(t, "bio.txt", produced[0].FileName)
	assert.Equal(t, hash, produced[0].ContentHash)
	assert.Equal(t, "raw/"+docID+"/"+hash, produced[0].ObjectName)
}

func TestUploadIdenticalBytesIsNoOp(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	content := []byte("同样的内容")
	docID := DocumentID(1, "notes.txt")
	hash := ContentHash(content)

	// 模拟该版本已摄取完成
	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: docID, OwnerID: 1, FileName: "notes.txt", Status: model.StatusPending,
	}))
	require.NoError(t, env.docRepo.RecordIngested(docID, hash, 1))

	dto, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, dto.Status, "相同字节的重传保持 ready")
	assert.Empty(t, env.producer.produced(), "相同字节不得触发重新摄取")
}

func TestUploadChangedBytesRequeues(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	docID := DocumentID(1, "notes.txt")

	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: docID, OwnerID: 1, FileName: "notes.txt", Status: model.StatusPending,
	}))
	require.NoError(t, env.docRepo.RecordIngested(docID, ContentHash([]byte("旧内容")), 1))

	newContent := []byte("新内容")
	dto, err := env.svc.Upload(ctx, 1, "notes.txt", newContent)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, dto.Status)

	doc, err := env.docRepo.Get(docID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)
	// 旧版本指针保持不变，直到新版本摄取完成
	assert.Equal(t, ContentHash([]byte("旧内容")), doc.ContentHash)

	produced := env.producer.produced()
	require.Len(t, produced, 1)
	assert.Equal(t, ContentHash(newContent), produced[0].ContentHash)
}

func TestUploadFailedDocumentRequeues(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	docID := DocumentID(1, "notes.txt")
	content := []byte("修复后的内容")

	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: docID, OwnerID: 1, FileName: "notes.txt", Status: model.StatusPending,
	}))
	require.NoError(t, env.docRepo.MarkFailed(docID, "embedding 服务不可用"))

	dto, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, dto.Status)

	doc, err := env.docRepo.Get(docID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Empty(t, doc.FailReason, "重新排队要清掉旧的失败原因")
	assert.Len(t, env.producer.produced(), 1)
}

func TestUploadRetriesAfterProduceFailure(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	content := []byte("投递失败后重试的内容")

	// 第一次上传时消息队列不可用
	env.producer.err = errors.New("kafka unavailable")
	_, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.Error(t, err)
	require.Empty(t, env.producer.produced())

	// 队列恢复后用相同字节重试，必须重新投递而不是当作已在队列中
	env.producer.err = nil
	dto, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, dto.Status)

	produced := env.producer.produced()
	require.Len(t, produced, 1)
	assert.Equal(t, ContentHash(content), produced[0].ContentHash)
}

func TestUploadPendingSameBytesReproduces(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	content := []byte("重复上传的内容")

	_, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)
	_, err = env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)

	// 重复任务由消费端幂等消化，上传侧宁可多投也不能漏投
	assert.Len(t, env.producer.produced(), 2)
}

func TestListExcludesDeleted(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()

	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: "d1", OwnerID: 1, FileName: "a.txt", Status: model.StatusReady,
	}))
	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: "d2", OwnerID: 1, FileName: "b.txt", Status: model.StatusDeleted,
	}))
	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: "d3", OwnerID: 2, FileName: "c.txt", Status: model.StatusReady,
	}))

	docs, err := env.svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.txt", docs[0].FileName)
}

func TestDeleteRemovesAllDerivedData(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	content := []byte("要删除的文档内容")
	docID := DocumentID(1, "notes.txt")
	hash := ContentHash(content)

	_, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)

	// 模拟摄取完成后的派生数据
	require.NoError(t, env.docRepo.RecordIngested(docID, hash, 1))
	env.chunkRepo.add(&model.DocumentChunk{
		ChunkKey: docID + "_" + hash + "_0", DocumentID: docID, Revision: hash, Seq: 0, OwnerID: 1, TextContent: "要删除的文档内容",
	})
	require.NoError(t, env.idx.Insert(ctx, index.Entry{
		ChunkKey: docID + "_" + hash + "_0", DocumentID: docID, OwnerID: 1, Seq: 0, Revision: hash, Vector: []float32{1, 0},
	}))

	require.NoError(t, env.svc.Delete(ctx, 1, docID))

	// 索引、分块、对象、版本标记全部清除
	count, err := env.idx.CountByDocument(ctx, docID, hash)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	chunks, err := env.chunkRepo.FindByDocumentRevision(docID, hash)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.False(t, env.store.has("raw/"+docID+"/"+hash))
	latest, err := env.stateRepo.GetLatestRevision(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, latest)

	doc, err := env.docRepo.Get(docID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, doc.Status)

	// 列表中不再出现
	docs, err := env.svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDeleteUnknownDocument(t *testing.T) {
	env := newDocumentEnv()
	err := env.svc.Delete(context.Background(), 1, "no-such-doc")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestDeleteRejectsForeignDocument(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: "d1", OwnerID: 1, FileName: "a.txt", Status: model.StatusReady,
	}))

	err := env.svc.Delete(ctx, 2, "d1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	doc, getErr := env.docRepo.Get("d1")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusReady, doc.Status)
}

func TestUploadAfterDeleteTreatsAsNewDocument(t *testing.T) {
	env := newDocumentEnv()
	ctx := context.Background()
	content := []byte("复活的文档")
	docID := DocumentID(1, "notes.txt")

	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: docID, OwnerID: 1, FileName: "notes.txt",
		Status: model.StatusDeleted, ContentHash: "stale", ChunkCount: 7,
	}))

	dto, err := env.svc.Upload(ctx, 1, "notes.txt", content)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, dto.Status)

	doc, err := env.docRepo.Get(docID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Empty(t, doc.ContentHash, "复位后不保留旧版本指针")
	assert.Equal(t, 0, doc.ChunkCount)
	assert.Len(t, env.producer.produced(), 1)
}
