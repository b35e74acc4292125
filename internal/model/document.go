// Package model 包含了应用的数据模型定义。
package model

import "time"

// 文档状态。状态机见 Document 注释。
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
	StatusDeleted = "deleted"
)

// Document 对应于数据库中的 documents 表。
// DocumentID 由 owner + 文件名派生，重新上传同名文件时保持稳定；
// ContentHash 是原始字节的 MD5，用于幂等判断。
// 状态机：pending→ready（摄取成功）、pending→failed（重试耗尽）、
// ready→pending（重新上传且哈希变化）、任意状态→deleted（显式删除）。
type Document struct {
	DocumentID  string     `gorm:"type:varchar(32);primaryKey;column:document_id" json:"documentId"`
	OwnerID     uint       `gorm:"not null;index;column:owner_id" json:"ownerId"`
	FileName    string     `gorm:"type:varchar(255);not null" json:"fileName"`
	ContentHash string     `gorm:"type:varchar(32);not null;column:content_hash" json:"contentHash"`
	Status      string     `gorm:"type:varchar(16);not null;default:pending" json:"status"`
	FailReason  string     `gorm:"type:varchar(500)" json:"failReason,omitempty"`
	ChunkCount  int        `gorm:"not null;default:0" json:"chunkCount"`
	IngestedAt  *time.Time `gorm:"default:null" json:"ingestedAt"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// validTransitions 列出了允许的状态迁移。deleted 可由任意状态到达。
var validTransitions = map[string][]string{
	StatusPending: {StatusReady, StatusFailed, StatusDeleted, StatusPending},
	StatusReady:   {StatusPending, StatusDeleted},
	StatusFailed:  {StatusPending, StatusDeleted},
	StatusDeleted: {StatusDeleted},
}

// CanTransition 判断从 from 到 to 的状态迁移是否合法。
func CanTransition(from, to string) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
