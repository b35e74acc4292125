package model

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 分块一经创建不再修改；重新摄取时整组替换（按 revision 区分版本）。
// ChunkKey = documentID_contentHash_seq，因此每个摄取版本的分块 ID 天然全新。
type DocumentChunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ChunkKey    string `gorm:"type:varchar(100);not null;uniqueIndex;column:chunk_key" json:"chunkKey"`
	DocumentID  string `gorm:"type:varchar(32);not null;index;column:document_id" json:"documentId"`
	Revision    string `gorm:"type:varchar(32);not null" json:"revision"`
	Seq         int    `gorm:"not null" json:"seq"`
	Offset      int    `gorm:"not null;column:text_offset" json:"offset"`
	Length      int    `gorm:"not null;column:text_length" json:"length"`
	TextContent string `gorm:"type:text;column:text_content" json:"textContent"`
	OwnerID     uint   `gorm:"not null;column:owner_id" json:"ownerId"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
