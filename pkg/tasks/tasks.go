// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents one document ingestion job. ContentHash identifies
// the exact uploaded revision so a stale task can be detected and dropped.
type IngestTask struct {
	DocumentID  string `json:"document_id"`
	OwnerID     uint   `json:"owner_id"`
	FileName    string `json:"file_name"`
	ContentHash string `json:"content_hash"`
	ObjectName  string `json:"object_name"`
}
