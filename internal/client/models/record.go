package models

import "time"

// ModelVersion is stamped on every written record.
const ModelVersion = 1

// Record is the decrypted form of a stored record.
type Record struct {
	ID          string
	Resource    Resource
	Tags        []string
	Annotations []string

	// DataKey encrypts the body; AttachmentKey, when present, encrypts every
	// attachment document of the record. Both are wrapped under CommonKeyID.
	DataKey       *EncryptedDataKey
	AttachmentKey *EncryptedDataKey

	CustomCreationDate time.Time
	UpdatedDate        time.Time
	CommonKeyID        string
}

// EncryptedRecord is the wire form exchanged with the records API.
type EncryptedRecord struct {
	RecordID      string   `json:"record_id,omitempty"`
	Date          string   `json:"date"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	EncryptedBody string   `json:"encrypted_body"`
	EncryptedTags []string `json:"encrypted_tags"`
	EncryptedKey  string   `json:"encrypted_key"`
	AttachmentKey string   `json:"attachment_key,omitempty"`
	CommonKeyID   string   `json:"common_key_id"`
	ModelVersion  int      `json:"model_version"`
}

// SearchParams filters a record search. Tags and ExcludeTags are plaintext
// "key=value" tags as produced by the tags package; they are encrypted
// before leaving the process.
type SearchParams struct {
	Tags         []string
	ExcludeTags  []string
	ResourceType string
	Annotations  []string
	Limit        int
	Offset       int
	StartDate    time.Time
	EndDate      time.Time
}

// EncryptedQuery is SearchParams after tag encryption.
type EncryptedQuery struct {
	Tags        []string
	ExcludeTags []string
	Limit       int
	Offset      int
	StartDate   string
	EndDate     string
}

// SearchResult holds decrypted records; Records is nil for count-only searches.
type SearchResult struct {
	Records    []*Record
	TotalCount int
}
