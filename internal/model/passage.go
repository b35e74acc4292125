package model

// ContextPassage 定义了检索返回的上下文段落，带有来源归属，
// 供下游答案生成调用拼装提示词使用。
type ContextPassage struct {
	DocumentID  string  `json:"documentId"`
	FileName    string  `json:"fileName"`
	Seq         int     `json:"seq"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}

// DocumentDTO 定义了返回给前端的文档列表项。
type DocumentDTO struct {
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	Status     string `json:"status"`
	FailReason string `json:"failReason,omitempty"`
	ChunkCount int    `json:"chunkCount"`
	IngestedAt string `json:"ingestedAt,omitempty"`
}
