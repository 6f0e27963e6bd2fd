package storage

import "nftLend/internal/model"

// Storage defines a sink for pool event records.
type Storage interface {
	PutEventBatch(events []model.PoolEventRecord) error
}
