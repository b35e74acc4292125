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

type retrievalEnv struct {
	svc       RetrievalService
	embedder  *fakeEmbedder
	idx       *index.BruteForce
	chunkRepo *fakeChunkRepo
	docRepo   *fakeDocRepo
}

func newRetrievalEnv() *retrievalEnv {
	env := &retrievalEnv{
		embedder:  &fakeEmbedder{},
		idx:       index.NewBruteForce(2),
		chunkRepo: newFakeChunkRepo(),
		docRepo:   newFakeDocRepo(),
	}
	env.svc = NewRetrievalService(env.embedder, env.idx, env.chunkRepo, env.docRepo, 3)
	return env
}

// seedChunk 同时写入文档记录（若缺失）、分块记录与索引条目。
func (env *retrievalEnv) seedChunk(t *testing.T, docID, fileName string, owner uint, seq int, revision, text string, vector []float32) {
	t.Helper()
	if _, err := env.docRepo.Get(docID); err != nil {
		require.NoError(t, env.docRepo.Create(&model.Document{
			DocumentID: docID, OwnerID: owner, FileName: fileName, Status: model.StatusPending,
		}))
		require.NoError(t, env.docRepo.RecordIngested(docID, revision, 1))
	}
	key := docID + "_" + revision + "_" + string(rune('0'+seq))
	env.chunkRepo.add(&model.DocumentChunk{
		ChunkKey: key, DocumentID: docID, Revision: revision, Seq: seq, OwnerID: owner, TextContent: text,
	})
	require.NoError(t, env.idx.Insert(context.Background(), index.Entry{
		ChunkKey: key, DocumentID: docID, OwnerID: owner, Seq: seq, Revision: revision, Vector: vector,
	}))
}

func TestRetrieveEmptyQuery(t *testing.T) {
	env := newRetrievalEnv()
	passages, err := env.svc.Retrieve(context.Background(), 1, "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
	assert.Equal(t, 0, env.embedder.calls, "空查询不消耗 embedding 调用")
}

func TestRetrieveEmptyIndex(t *testing.T) {
	env := newRetrievalEnv()
	passages, err := env.svc.Retrieve(context.Background(), 1, "什么是光合作用", 3)
	require.NoError(t, err)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)
}

func TestRetrieveOrdersByScore(t *testing.T) {
	env := newRetrievalEnv()
	// 查询向量固定为 [1,0]：c-exact 完全对齐，c-near 其次，c-far 垂直
	env.seedChunk(t, "doc1", "bio.txt", 1, 0, "v1", "最相关的段落", []float32{1, 0})
	env.seedChunk(t, "doc1", "bio.txt", 1, 1, "v1", "比较相关的段落", []float32{0.9, 0.3})
	env.seedChunk(t, "doc1", "bio.txt", 1, 2, "v1", "无关的段落", []float32{0, 1})

	passages, err := env.svc.Retrieve(context.Background(), 1, "光合作用", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "最相关的段落", passages[0].TextContent)
	assert.Equal(t, "比较相关的段落", passages[1].TextContent)
	assert.Greater(t, passages[0].Score, passages[1].Score)
	assert.Equal(t, "bio.txt", passages[0].FileName)
}

func TestRetrieveOwnerIsolation(t *testing.T) {
	env := newRetrievalEnv()
	// 用户 1 有光合作用的笔记，用户 2 没有任何相关资料
	env.seedChunk(t, "doc1", "bio.txt", 1, 0, "v1", "光合作用把光能转化为化学能", []float32{1, 0})
	env.seedChunk(t, "doc2", "math.txt", 2, 0, "v1", "矩阵乘法不满足交换律", []float32{0, 1})

	passages, err := env.svc.Retrieve(context.Background(), 2, "什么是光合作用", 3)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "math.txt", passages[0].FileName, "绝不能返回其他用户的段落")

	passages, err = env.svc.Retrieve(context.Background(), 3, "什么是光合作用", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrievePinsToIngestedRevision(t *testing.T) {
	env := newRetrievalEnv()
	// 文档就绪版本是 v1，索引中残留一条尚未清理的 v2 条目
	env.seedChunk(t, "doc1", "bio.txt", 1, 0, "v1", "当前版本的段落", []float32{0.8, 0.2})
	require.NoError(t, env.idx.Insert(context.Background(), index.Entry{
		ChunkKey: "doc1_v2_0", DocumentID: "doc1", OwnerID: 1, Seq: 0, Revision: "v2", Vector: []float32{1, 0},
	}))

	passages, err := env.svc.Retrieve(context.Background(), 1, "查询", 3)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "当前版本的段落", passages[0].TextContent, "非就绪版本的条目不可见")
}

func TestRetrieveExcludesNeverIngestedDocument(t *testing.T) {
	env := newRetrievalEnv()
	// 文档还在 pending、从未成功摄取，但索引里已有条目（提交中途）
	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: "doc1", OwnerID: 1, FileName: "bio.txt", Status: model.StatusPending,
	}))
	require.NoError(t, env.idx.Insert(context.Background(), index.Entry{
		ChunkKey: "doc1_v1_0", DocumentID: "doc1", OwnerID: 1, Seq: 0, Revision: "v1", Vector: []float32{1, 0},
	}))

	passages, err := env.svc.Retrieve(context.Background(), 1, "查询", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrieveExcludesDeletedDocument(t *testing.T) {
	env := newRetrievalEnv()
	env.seedChunk(t, "doc1", "bio.txt", 1, 0, "v1", "段落", []float32{1, 0})
	require.NoError(t, env.docRepo.MarkDeleted("doc1"))

	passages, err := env.svc.Retrieve(context.Background(), 1, "查询", 3)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrieveSkipsCorruptedMatch(t *testing.T) {
	env := newRetrievalEnv()
	env.seedChunk(t, "doc1", "bio.txt", 1, 0, "v1", "完好的段落", []float32{0.8, 0.2})
	// 索引条目存在但分块记录缺失
	require.NoError(t, env.docRepo.Create(&model.Document{
		DocumentID: "doc2", OwnerID: 1, FileName: "broken.txt", Status: model.StatusPending,
	}))
	require.NoError(t, env.docRepo.RecordIngested("doc2", "v1", 1))
	require.NoError(t, env.idx.Insert(context.Background(), index.Entry{
		ChunkKey: "doc2_v1_0", DocumentID: "doc2", OwnerID: 1, Seq: 0, Revision: "v1", Vector: []float32{1, 0},
	}))

	passages, err := env.svc.Retrieve(context.Background(), 1, "查询", 3)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "完好的段落", passages[0].TextContent)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	env := newRetrievalEnv()
	for seq := 0; seq < 5; seq++ {
		env.seedChunk(t, "doc1", "bio.txt", 1, seq, "v1", "段落", []float32{1, 0})
	}

	passages, err := env.svc.Retrieve(context.Background(), 1, "查询", 2)
	require.NoError(t, err)
	assert.Len(t, passages, 2)
}

func TestRetrieveDefaultTopK(t *testing.T) {
	env := newRetrievalEnv()
	for seq := 0; seq < 5; seq++ {
		env.seedChunk(t, "doc1", "bio.txt", 1, seq, "v1", "段落", []float32{1, 0})
	}

	// topK 非法时退回默认值 3
	passages, err := env.svc.Retrieve(context.Background(), 1, "查询", 0)
	require.NoError(t, err)
	assert.Len(t, passages, 3)
}

func TestRetrievePropagatesEmbedderError(t *testing.T) {
	env := newRetrievalEnv()
	env.embedder.err = errors.New("embedding api down")

	_, err := env.svc.Retrieve(context.Background(), 1, "查询", 3)
	assert.Error(t, err)
}
