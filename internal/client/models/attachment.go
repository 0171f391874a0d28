package models

import (
	"time"
)

// Attachment is a FHIR Attachment. Data holds the decrypted file; it is
// uploaded as separate encrypted documents and stripped from the record body
// before the body is encrypted.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Language    string `json:"language,omitempty"`
	Creation    string `json:"creation,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// CreationTime parses Creation, which may be a date or a full timestamp.
func (a *Attachment) CreationTime() (time.Time, bool) {
	if a.Creation == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, a.Creation); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Clone returns a copy that does not share Data.
func (a *Attachment) Clone() *Attachment {
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// ImageSize selects which derivative of an image attachment to download.
type ImageSize string

const (
	ImageSizeFull   ImageSize = "full"
	ImageSizeMedium ImageSize = "medium" // preview, 1000px high
	ImageSizeSmall  ImageSize = "small"  // thumbnail, 200px high
)

// Identifier is a FHIR Identifier.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}
