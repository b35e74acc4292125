package service

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"time"

	"studymate-go/internal/model"
	"studymate-go/pkg/tasks"

	"gorm.io/gorm"
)

// ---- 服务层测试共用的测试替身 ----

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: make(map[string]*model.Document)}
}

func (r *fakeDocRepo) Create(doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.DocumentID] = &cp
	return nil
}

func (r *fakeDocRepo) Get(documentID string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) GetOwned(documentID string, ownerID uint) (*model.Document, error) {
	doc, err := r.Get(documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}

func (r *fakeDocRepo) FindByOwner(ownerID uint) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []model.Document
	for _, doc := range r.docs {
		if doc.OwnerID == ownerID && doc.Status != model.StatusDeleted {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (r *fakeDocRepo) FindBatchByIDs(ids []string) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*model.Document
	for _, id := range ids {
		if doc, ok := r.docs[id]; ok {
			cp := *doc
			docs = append(docs, &cp)
		}
	}
	return docs, nil
}

func (r *fakeDocRepo) GetHash(documentID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok || doc.Status == model.StatusDeleted {
		return "", false, nil
	}
	return doc.ContentHash, true, nil
}

func (r *fakeDocRepo) Save(doc *model.Document) error {
	return r.Create(doc)
}

func (r *fakeDocRepo) transition(documentID, to string, mutate func(*model.Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if !model.CanTransition(doc.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s", doc.Status, to)
	}
	doc.Status = to
	mutate(doc)
	return nil
}

func (r *fakeDocRepo) RecordIngested(documentID, contentHash string, chunkCount int) error {
	now := time.Now()
	return r.transition(documentID, model.StatusReady, func(doc *model.Document) {
		doc.ContentHash = contentHash
		doc.ChunkCount = chunkCount
		doc.FailReason = ""
		doc.IngestedAt = &now
	})
}

func (r *fakeDocRepo) MarkPending(documentID string) error {
	return r.transition(documentID, model.StatusPending, func(doc *model.Document) {
		doc.FailReason = ""
	})
}

func (r *fakeDocRepo) MarkFailed(documentID, reason string) error {
	return r.transition(documentID, model.StatusFailed, func(doc *model.Document) {
		doc.FailReason = reason
	})
}

func (r *fakeDocRepo) MarkDeleted(documentID string) error {
	return r.transition(documentID, model.StatusDeleted, func(doc *model.Document) {
		doc.ChunkCount = 0
	})
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks []*model.DocumentChunk
}

func newFakeChunkRepo() *fakeChunkRepo { return &fakeChunkRepo{} }

func (r *fakeChunkRepo) add(chunks ...*model.DocumentChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunks...)
}

func (r *fakeChunkRepo) BatchCreate(chunks []*model.DocumentChunk) error {
	r.add(chunks...)
	return nil
}

func (r *fakeChunkRepo) FindByKeys(keys []string) ([]*model.DocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keySet[k] = struct{}{}
	}
	var out []*model.DocumentChunk
	for _, c := range r.chunks {
		if _, ok := keySet[c.ChunkKey]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeChunkRepo) FindByDocumentRevision(documentID, revision string) ([]*model.DocumentChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DocumentChunk
	for _, c := range r.chunks {
		if c.DocumentID == documentID && c.Revision == revision {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeChunkRepo) CountByDocumentRevision(documentID, revision string) (int64, error) {
	found, _ := r.FindByDocumentRevision(documentID, revision)
	return int64(len(found)), nil
}

func (r *fakeChunkRepo) DeleteByDocument(documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
	return nil
}

func (r *fakeChunkRepo) DeleteStaleRevisions(documentID, keepRevision string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if c.DocumentID != documentID || c.Revision == keepRevision {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
	return nil
}

type fakeStateRepo struct {
	mu        sync.Mutex
	leases    map[string]bool
	revisions map[string]string
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{leases: make(map[string]bool), revisions: make(map[string]string)}
}

func (r *fakeStateRepo) AcquireLease(_ context.Context, documentID string, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leases[documentID] {
		return false, nil
	}
	r.leases[documentID] = true
	return true, nil
}

func (r *fakeStateRepo) ReleaseLease(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, documentID)
	return nil
}

func (r *fakeStateRepo) SetLatestRevision(_ context.Context, documentID, contentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions[documentID] = contentHash
	return nil
}

func (r *fakeStateRepo) GetLatestRevision(_ context.Context, documentID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revisions[documentID], nil
}

func (r *fakeStateRepo) ClearLatestRevision(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.revisions, documentID)
	return nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Put(_ context.Context, objectName string, reader io.Reader, _ int64) error {
	content, err := ioutil.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = content
	return nil
}

func (s *fakeObjectStore) Remove(_ context.Context, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectName)
	return nil
}

func (s *fakeObjectStore) has(objectName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectName]
	return ok
}

type fakeProducer struct {
	mu    sync.Mutex
	tasks []tasks.IngestTask
	err   error
}

func (p *fakeProducer) ProduceIngestTask(_ context.Context, task tasks.IngestTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *fakeProducer) produced() []tasks.IngestTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tasks.IngestTask, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// fakeEmbedder 用文本首个 rune 决定向量方向，便于构造可预测的相似度。
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeEmbedder) Dimensions() int { return 2 }

func (e *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0}
	}
	return vecs, nil
}
