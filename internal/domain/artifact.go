package domain

import "time"

// ArtifactReference is the opaque handle returned by the storage layer once
// artifact bytes are durably written. It is embedded into a generation's
// storage_url/additional_files, never persisted as its own table.
type ArtifactReference struct {
	ArtifactID      string    `json:"artifact_id"`
	StorageKey      string    `json:"storage_key"`
	StorageProvider string    `json:"storage_provider"`
	StorageURL      string    `json:"storage_url"`
	ContentType     string    `json:"content_type"`
	Size            int64     `json:"size"`
	CreatedAt       time.Time `json:"created_at"`
}

// ImageArtifact is a stored image result with display dimensions.
type ImageArtifact struct {
	ArtifactReference
	Width  int
	Height int
}

// VideoArtifact is a stored video result.
type VideoArtifact struct {
	ArtifactReference
	Width           int
	Height          int
	DurationSeconds float64
}

// AudioArtifact is a stored audio result.
type AudioArtifact struct {
	ArtifactReference
	DurationSeconds float64
}

// TextArtifact is a stored text result.
type TextArtifact struct {
	ArtifactReference
	CharCount int
}
