package model

import "encoding/json"

// PoolEvent is a committed pool state change. Data holds one of the *Data
// payload types.
type PoolEvent struct {
	ChainID   uint64      `json:"chain_id"`
	Pool      string      `json:"pool"`
	Seq       uint64      `json:"seq"`
	EventName string      `json:"event_name"`
	Timestamp uint64      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PoolEventRecord is the JSON shape of a stored PoolEvent.
type PoolEventRecord struct {
	ChainID   uint64          `json:"chain_id"`
	Pool      string          `json:"pool"`
	Seq       uint64          `json:"seq"`
	EventName string          `json:"event_name"`
	Timestamp uint64          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Record converts the event to its stored form.
func (e PoolEvent) Record() (PoolEventRecord, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return PoolEventRecord{}, err
	}
	return PoolEventRecord{
		ChainID:   e.ChainID,
		Pool:      e.Pool,
		Seq:       e.Seq,
		EventName: e.EventName,
		Timestamp: e.Timestamp,
		Data:      data,
	}, nil
}
