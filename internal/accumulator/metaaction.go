package accumulator

// MetaAction is one timestamped entry in a segment's metadata sidecar.
// Exactly one of Snapshot or Blit is set.
type MetaAction struct {
	TSMs     uint64           `json:"ts_ms"`
	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
	Blit     *BlitPayload     `json:"blit,omitempty"`
}

// SnapshotPayload is a full copy of the current per-client statistics,
// emitted as the first element of every segment's action log.
type SnapshotPayload struct {
	Clients map[string]ClientSnapshot `json:"clients"`
}

// ClientSnapshot mirrors the live accounting kept for one client.
type ClientSnapshot struct {
	Name         string  `json:"name"`
	CurrentCount int     `json:"current_count"`
	TotalCount   int     `json:"total_count"`
	AverageTime  float64 `json:"average_time"`
}

// BlitPayload describes a single tile blit.
type BlitPayload struct {
	ClientID  uint64  `json:"client_id"`
	TileIndex int     `json:"tile_index"`
	Time      float64 `json:"time"`
	Name      *string `json:"name,omitempty"`
}
