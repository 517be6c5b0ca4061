// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// EmailDispatchTask represents the data structure for an outbound email job.
// The email row is written to MySQL first; the task only carries its ID.
type EmailDispatchTask struct {
	EmailID   uint   `json:"email_id"`
	ToAddress string `json:"to_address"`
}
