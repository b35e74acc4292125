package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// IngestStateRepository 管理 Redis 中的摄取瞬态：
// 每文档的摄取租约（串行化同一文档的变更）和当前最新上传版本标记
// （让被新上传取代的旧任务尽早中止）。
type IngestStateRepository interface {
	AcquireLease(ctx context.Context, documentID string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, documentID string) error
	SetLatestRevision(ctx context.Context, documentID, contentHash string) error
	// GetLatestRevision 返回最近一次上传的内容哈希，无记录时返回空串。
	GetLatestRevision(ctx context.Context, documentID string) (string, error)
	ClearLatestRevision(ctx context.Context, documentID string) error
}

type ingestStateRepository struct {
	redisClient *redis.Client
}

// NewIngestStateRepository 创建一个新的 IngestStateRepository 实例。
func NewIngestStateRepository(redisClient *redis.Client) IngestStateRepository {
	return &ingestStateRepository{redisClient: redisClient}
}

func leaseKey(documentID string) string {
	return "ingest:lease:" + documentID
}

func revisionKey(documentID string) string {
	return "ingest:revision:" + documentID
}

// AcquireLease 以 SETNX 语义获取文档的摄取租约。
// TTL 兜底防止崩溃的消费者永久持有租约。
func (r *ingestStateRepository) AcquireLease(ctx context.Context, documentID string, ttl time.Duration) (bool, error) {
	return r.redisClient.SetNX(ctx, leaseKey(documentID), 1, ttl).Result()
}

// ReleaseLease 释放文档的摄取租约。
func (r *ingestStateRepository) ReleaseLease(ctx context.Context, documentID string) error {
	return r.redisClient.Del(ctx, leaseKey(documentID)).Err()
}

// SetLatestRevision 记录文档最近一次上传的内容哈希。
func (r *ingestStateRepository) SetLatestRevision(ctx context.Context, documentID, contentHash string) error {
	return r.redisClient.Set(ctx, revisionKey(documentID), contentHash, 0).Err()
}

// GetLatestRevision 返回文档最近一次上传的内容哈希。
func (r *ingestStateRepository) GetLatestRevision(ctx context.Context, documentID string) (string, error) {
	val, err := r.redisClient.Get(ctx, revisionKey(documentID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

// ClearLatestRevision 在文档删除后清理版本标记。
func (r *ingestStateRepository) ClearLatestRevision(ctx context.Context, documentID string) error {
	return r.redisClient.Del(ctx, revisionKey(documentID)).Err()
}
