package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/taleforge/offline-cache/models"
)

// Remote applies a replayed operation to the remote backend.
type Remote interface {
	Apply(ctx context.Context, op *models.OperationQueueItem) error
}

// remoteTables lists the tables operations may replay into.
var remoteTables = map[string]bool{
	"stories":        true,
	"story_segments": true,
	"profiles":       true,
}

// GormRemote writes replayed operations straight into the hosted Postgres
// backend.
type GormRemote struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewGormRemote connects to the remote database, retrying for up to 30
// seconds while the backend comes up.
func NewGormRemote(dsn string, log *zap.Logger) (*GormRemote, error) {
	var db *gorm.DB
	var err error
	for i := 0; i < 30; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			break
		}
		log.Warn("remote backend not reachable, retrying", zap.Error(err))
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect remote backend: %w", err)
	}
	return &GormRemote{db: db, log: log}, nil
}

func (r *GormRemote) Apply(ctx context.Context, op *models.OperationQueueItem) error {
	if !remoteTables[op.TargetTable] {
		return fmt.Errorf("refusing replay into unknown table %q", op.TargetTable)
	}

	switch op.OperationType {
	case models.OperationInsert:
		row, err := decodePayload(op.Payload)
		if err != nil {
			return err
		}
		// Replaying the same insert twice must not duplicate the remote
		// row; conflicts on the shared id are a no-op.
		return r.db.WithContext(ctx).
			Table(op.TargetTable).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoNothing: true,
			}).
			Create(&row).Error

	case models.OperationUpdate:
		row, err := decodePayload(op.Payload)
		if err != nil {
			return err
		}
		delete(row, "id")
		return r.db.WithContext(ctx).
			Table(op.TargetTable).
			Where("id = ?", op.RecordID).
			Updates(row).Error

	case models.OperationDelete:
		return r.db.WithContext(ctx).
			Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", op.TargetTable), op.RecordID).Error

	default:
		return fmt.Errorf("unknown operation type %q", op.OperationType)
	}
}

func decodePayload(payload json.RawMessage) (map[string]interface{}, error) {
	var row map[string]interface{}
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("decode operation payload: %w", err)
	}
	return row, nil
}
