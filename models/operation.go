package models

import (
	"encoding/json"
	"time"
)

type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

// OperationQueueItem is a remote mutation recorded while the network or
// auth session was unavailable, replayed later in createdAt order.
// Completed items are deleted rather than retained; the queue only tracks
// work still to be done or work that failed.
type OperationQueueItem struct {
	ID            string          `json:"id" gorm:"primaryKey"`
	OperationType OperationType   `json:"operationType"`
	TargetTable   string          `json:"targetTable" gorm:"index"`
	RecordID      string          `json:"recordId" gorm:"index"`
	Payload       json.RawMessage `json:"payload" gorm:"type:text"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"index"`
	RetryCount    int             `json:"retryCount"`
	Status        OperationStatus `json:"status" gorm:"index"`
	Error         string          `json:"error,omitempty"`
}

func (OperationQueueItem) TableName() string { return "operation_queue" }

func (o *OperationQueueItem) Key() string { return o.ID }
