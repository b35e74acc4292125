package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"studymate-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Elastic 是基于 Elasticsearch dense_vector KNN 的索引实现，
// 与 BruteForce 实现同一接口，按 index.backend 配置选用。
type Elastic struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// esEntry 是写入 Elasticsearch 的文档结构。
type esEntry struct {
	ChunkKey   string    `json:"chunk_key"`
	DocumentID string    `json:"document_id"`
	OwnerID    uint      `json:"owner_id"`
	Seq        int       `json:"seq"`
	Revision   string    `json:"revision"`
	Vector     []float32 `json:"vector"`
}

// NewElastic 创建 Elasticsearch 索引实现，索引不存在时按映射创建。
func NewElastic(client *elasticsearch.Client, indexName string, dims int) (*Elastic, error) {
	e := &Elastic{client: client, indexName: indexName, dims: dims}
	if err := e.ensureIndex(); err != nil {
		return nil, err
	}
	return e, nil
}

// ensureIndex 检查索引是否存在，不存在则以余弦相似度映射创建。
func (e *Elastic) ensureIndex() error {
	res, err := e.client.Indices.Exists([]string{e.indexName})
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", e.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_key":   { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"owner_id":    { "type": "long" },
				"seq":         { "type": "integer" },
				"revision":    { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, e.dims)

	createRes, err := e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", e.indexName, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", e.indexName, createRes.String())
	}

	log.Infof("索引 '%s' 创建成功", e.indexName)
	return nil
}

// Insert 以 create 语义写入一条记录，chunk_key 冲突返回 ErrDuplicateChunk。
func (e *Elastic) Insert(ctx context.Context, entry Entry) error {
	if len(entry.Vector) != e.dims {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(entry.Vector), e.dims)
	}

	doc := esEntry{
		ChunkKey:   entry.ChunkKey,
		DocumentID: entry.DocumentID,
		OwnerID:    entry.OwnerID,
		Seq:        entry.Seq,
		Revision:   entry.Revision,
		Vector:     entry.Vector,
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.CreateRequest{
		Index:      e.indexName,
		DocumentID: entry.ChunkKey,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, entry.ChunkKey)
	}
	if res.IsError() {
		return fmt.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
	}
	return nil
}

// DeleteByDocument 按 document_id 批量删除条目。
func (e *Elastic) DeleteByDocument(ctx context.Context, documentID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	}
	return e.deleteByQuery(ctx, query)
}

// DeleteStaleRevisions 删除指定文档中非当前版本的条目。
func (e *Elastic) DeleteStaleRevisions(ctx context.Context, documentID, keepRevision string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"term": map[string]interface{}{"document_id": documentID},
				},
				"must_not": map[string]interface{}{
					"term": map[string]interface{}{"revision": keepRevision},
				},
			},
		},
	}
	return e.deleteByQuery(ctx, query)
}

func (e *Elastic) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("failed to encode delete query: %w", err)
	}

	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		&buf,
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch delete_by_query returned an error: %s", string(bodyBytes))
	}
	return nil
}

// Search 执行 KNN 检索，过滤到指定 owner，按得分降序、seq 升序返回。
func (e *Elastic) Search(ctx context.Context, vector []float32, k int, ownerID uint) ([]Match, error) {
	if len(vector) != e.dims {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), e.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"owner_id": ownerID},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"_score": "desc"},
			map[string]interface{}{"seq": "asc"},
		},
		"size": k,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s", string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esEntry `json:"_source"`
				Score  float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]Match, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, Match{
			ChunkKey:   hit.Source.ChunkKey,
			DocumentID: hit.Source.DocumentID,
			Revision:   hit.Source.Revision,
			Seq:        hit.Source.Seq,
			Score:      hit.Score,
		})
	}
	return matches, nil
}

// CountByDocument 返回指定文档版本的条目数。
func (e *Elastic) CountByDocument(ctx context.Context, documentID, revision string) (int, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"document_id": documentID}},
					{"term": map[string]interface{}{"revision": revision}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, fmt.Errorf("failed to encode count query: %w", err)
	}

	res, err := e.client.Count(
		e.client.Count.WithContext(ctx),
		e.client.Count.WithIndex(e.indexName),
		e.client.Count.WithBody(&buf),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch count failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("elasticsearch count returned an error: %s", string(bodyBytes))
	}

	var countResp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return countResp.Count, nil
}
