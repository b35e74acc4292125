package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// storedEntry 在 Entry 之外缓存向量的 L2 范数，加速余弦相似度计算。
type storedEntry struct {
	Entry
	norm float64
}

// BruteForce 是进程内的暴力扫描索引。
// 所有变更在互斥锁内完成且不跨越任何外部调用，读取用读锁并发进行。
type BruteForce struct {
	mu      sync.RWMutex
	dims    int
	byKey   map[string]*storedEntry
	byOwner map[uint][]*storedEntry
}

// NewBruteForce 创建一个固定维度的暴力扫描索引。
func NewBruteForce(dims int) *BruteForce {
	return &BruteForce{
		dims:    dims,
		byKey:   make(map[string]*storedEntry),
		byOwner: make(map[uint][]*storedEntry),
	}
}

// Insert 添加一条索引记录，拒绝重复 chunk_key 与维度不符的向量。
func (b *BruteForce) Insert(_ context.Context, entry Entry) error {
	if len(entry.Vector) != b.dims {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(entry.Vector), b.dims)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byKey[entry.ChunkKey]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, entry.ChunkKey)
	}

	se := &storedEntry{Entry: entry, norm: l2norm(entry.Vector)}
	b.byKey[entry.ChunkKey] = se
	b.byOwner[entry.OwnerID] = append(b.byOwner[entry.OwnerID], se)
	return nil
}

// DeleteByDocument 删除指定文档的全部条目，文档无条目时为 no-op。
func (b *BruteForce) DeleteByDocument(_ context.Context, documentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeWhere(func(se *storedEntry) bool {
		return se.DocumentID == documentID
	})
	return nil
}

// DeleteStaleRevisions 删除指定文档中 revision 不等于 keepRevision 的条目。
// 新版本提交完成后调用，清理被替换的旧版本。
func (b *BruteForce) DeleteStaleRevisions(_ context.Context, documentID, keepRevision string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeWhere(func(se *storedEntry) bool {
		return se.DocumentID == documentID && se.Revision != keepRevision
	})
	return nil
}

// removeWhere 从两个映射中移除满足条件的条目。调用方必须持有写锁。
func (b *BruteForce) removeWhere(match func(*storedEntry) bool) {
	owners := make(map[uint]struct{})
	for key, se := range b.byKey {
		if match(se) {
			delete(b.byKey, key)
			owners[se.OwnerID] = struct{}{}
		}
	}
	for owner := range owners {
		kept := b.byOwner[owner][:0]
		for _, se := range b.byOwner[owner] {
			if !match(se) {
				kept = append(kept, se)
			}
		}
		if len(kept) == 0 {
			delete(b.byOwner, owner)
		} else {
			b.byOwner[owner] = kept
		}
	}
}

// Search 在 ownerID 的条目内做余弦相似度暴力扫描，返回最多 k 条最优命中。
// 相似度相同（误差 1e-9 内）时按 Seq 升序，再按 ChunkKey 保证完全确定。
func (b *BruteForce) Search(_ context.Context, vector []float32, k int, ownerID uint) ([]Match, error) {
	if len(vector) != b.dims {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), b.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	qnorm := l2norm(vector)

	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.byOwner[ownerID]
	if len(entries) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(entries))
	for _, se := range entries {
		matches = append(matches, Match{
			ChunkKey:   se.ChunkKey,
			DocumentID: se.DocumentID,
			Revision:   se.Revision,
			Seq:        se.Seq,
			Score:      cosine(vector, qnorm, se.Vector, se.norm),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if math.Abs(matches[i].Score-matches[j].Score) > 1e-9 {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Seq != matches[j].Seq {
			return matches[i].Seq < matches[j].Seq
		}
		return matches[i].ChunkKey < matches[j].ChunkKey
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// CountByDocument 返回指定文档版本的条目数，用于一致性校验。
func (b *BruteForce) CountByDocument(_ context.Context, documentID, revision string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, se := range b.byKey {
		if se.DocumentID == documentID && se.Revision == revision {
			count++
		}
	}
	return count, nil
}

// l2norm 计算向量的 L2 范数。
func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine 利用缓存的范数计算余弦相似度，零向量的相似度为 0。
func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
