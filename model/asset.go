package model

import "time"

// ExportFormat is one fixed-dimension rendition of a generated image.
type ExportFormat struct {
	Tag    string `json:"tag"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DefaultExportFormats are the renditions produced for every completed job:
// one vertical story format and one square feed format.
var DefaultExportFormats = []ExportFormat{
	{Tag: "story", Width: 1080, Height: 1920},
	{Tag: "square", Width: 1080, Height: 1080},
}

// ThumbnailSizes are the square preview renditions derived after export.
var ThumbnailSizes = []int{512, 256}

// Asset is one exported image file recorded for a job.
type Asset struct {
	ID          int64                  `json:"-"`
	AssetID     string                 `json:"asset_id"`
	AccountID   string                 `json:"account_id"`
	JobID       string                 `json:"job_id"`
	Bucket      string                 `json:"bucket"`
	StorageKey  string                 `json:"storage_key"`
	ContentType string                 `json:"content_type"`
	ByteSize    int64                  `json:"byte_size"`
	Width       int                    `json:"width"`
	Height      int                    `json:"height"`
	FormatTag   string                 `json:"format_tag"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
