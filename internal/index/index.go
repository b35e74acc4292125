// Package index 定义了向量索引的抽象与实现。
// 默认实现是进程内的暴力扫描（课程笔记规模下足够），接口保持稳定，
// 以便将来替换为近似最近邻结构而不影响调用方。
package index

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateChunk 表示尝试写入已存在的 chunk_key。
	// 每个摄取版本的 chunk_key 都是全新的，重复写入属于调用方错误。
	ErrDuplicateChunk = errors.New("chunk key already exists in index")
	// ErrDimensionMismatch 表示向量维度与索引维度不一致。
	// 这是编程级不变量被破坏，对该文档是致命错误。
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry 是索引中的一条记录：向量及其回溯元数据。
// Revision 是所属文档版本的内容哈希，用于版本切换时清理旧条目。
type Entry struct {
	ChunkKey   string
	DocumentID string
	OwnerID    uint
	Seq        int
	Revision   string
	Vector     []float32
}

// Match 是一次相似度检索的单条命中。
type Match struct {
	ChunkKey   string
	DocumentID string
	Revision   string
	Seq        int
	Score      float64
}

// Index 是向量索引的统一接口。
// Search 结果按相似度降序排列，同分时按 Seq 升序（靠前的文本优先）。
// 检索严格限定在 ownerID 的条目内，跨用户泄漏属于正确性错误。
type Index interface {
	Insert(ctx context.Context, entry Entry) error
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteStaleRevisions(ctx context.Context, documentID, keepRevision string) error
	Search(ctx context.Context, vector []float32, k int, ownerID uint) ([]Match, error)
	CountByDocument(ctx context.Context, documentID, revision string) (int, error)
}
