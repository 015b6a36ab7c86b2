package storage

import "time"

// Frame is one capture tick. IDs are assigned by the capture pipeline and
// never reused.
type Frame struct {
	ID          int64
	WindowTitle string
	Time        time.Time
}

// ContentBlock is one recognized text region of a frame, with a pixel-space
// bounding box whose origin is the top-left corner.
type ContentBlock struct {
	ID      int64
	FrameID int64
	Text    string
	X       float64
	Y       float64
	W       float64
	H       float64
}

// Embedding is the semantic vector of a frame. Vector holds either
// little-endian float32 components or int8 components depending on Quantized.
type Embedding struct {
	FrameID     int64
	Vector      []byte
	Quantized   bool
	Dimensions  int
	TextSummary string
}

// TextQuery defines a keyword search over content blocks.
type TextQuery struct {
	Query  string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// TextHit is one content block matching a TextQuery. Lower Rank is more
// relevant (bm25).
type TextHit struct {
	FrameID     int64     `json:"frame_id"`
	BlockID     int64     `json:"block_id"`
	Text        string    `json:"text"`
	Rank        float64   `json:"rank"`
	WindowTitle string    `json:"window_title"`
	Time        time.Time `json:"time"`
}

// EmbeddingHit is one frame returned by a vector search.
type EmbeddingHit struct {
	FrameID    int64   `json:"frame_id"`
	Similarity float32 `json:"similarity"`
	Summary    string  `json:"summary"`
}

// Stats holds aggregate statistics about the frame store.
type Stats struct {
	TotalFrames         int64         `json:"total_frames"`
	TotalBlocks         int64         `json:"total_blocks"`
	TotalEmbeddings     int64         `json:"total_embeddings"`
	QuantizedEmbeddings int64         `json:"quantized_embeddings"`
	MaxFrameID          int64         `json:"max_frame_id"`
	OldestFrame         time.Time     `json:"oldest_frame"`
	NewestFrame         time.Time     `json:"newest_frame"`
	DatabaseSizeBytes   int64         `json:"database_size_bytes"`
	TopWindows          []WindowCount `json:"top_windows"`
}

// WindowCount pairs a window title with its frame count.
type WindowCount struct {
	WindowTitle string `json:"window_title"`
	Count       int64  `json:"count"`
}

// MaintenanceEntry is one row of the maintenance log.
type MaintenanceEntry struct {
	ID     int64     `json:"id"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
	Time   time.Time `json:"ts"`
}
