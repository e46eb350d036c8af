// Package persistence holds the snapshot stores and the encoding they share.
package persistence

import (
	"encoding/json"
	"fmt"

	"docgraph/application/ports"
)

// EncodeSnapshot serialises a snapshot for storage
func EncodeSnapshot(snapshot *ports.Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot restores a snapshot. A payload written by another layout
// version reads as not found so the caller rebuilds from scratch.
func DecodeSnapshot(data []byte) (*ports.Snapshot, error) {
	var snapshot ports.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Version != ports.SnapshotVersion {
		return nil, ports.ErrSnapshotNotFound
	}
	return &snapshot, nil
}
