// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIndexTask represents the data structure for an async indexing job.
type DocumentIndexTask struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	UserID     uint   `json:"user_id"`
	FileName   string `json:"file_name"`
}
