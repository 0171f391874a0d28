package attachments

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
)

const (
	// IdentifierPrefix marks packed "full#preview#thumbnail" identifiers.
	IdentifierPrefix = "d4l_f_p_t"
	IdentifierSystem = "http://fhir.phrkeeper.dev/sid/attachment-ids"

	identifierSep = "#"
)

// HashCutoff is the first day attachment hashes were reliably written.
var HashCutoff = time.Date(2020, time.March, 13, 0, 0, 0, 0, time.UTC)

func GetContentHash(p cryptox.Provider, data []byte) string {
	return cryptox.ContentHash(p, data)
}

// GetIdentifierValue packs uploaded document ids given in upload order
// (full, preview, thumbnail). Slots are assigned from the end of the list,
// each empty slot taking the value of the slot after it.
func GetIdentifierValue(ids []string) string {
	rest := append([]string(nil), ids...)
	pop := func() string {
		if len(rest) == 0 {
			return ""
		}
		v := rest[len(rest)-1]
		rest = rest[:len(rest)-1]
		return v
	}

	thumb := pop()
	preview := pop()
	if preview == "" {
		preview = thumb
	}
	full := pop()
	if full == "" {
		full = preview
	}
	return strings.Join([]string{IdentifierPrefix, full, preview, thumb}, identifierSep)
}

// ParseIdentifierValue unpacks a value built by GetIdentifierValue.
func ParseIdentifierValue(v string) (full, preview, thumb string, ok bool) {
	parts := strings.Split(v, identifierSep)
	if len(parts) != 4 || parts[0] != IdentifierPrefix {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// IsAttachmentIdentifier reports whether id was written by this package.
func IsAttachmentIdentifier(id models.Identifier) bool {
	_, _, _, ok := ParseIdentifierValue(id.Value)
	return ok
}

// GetAttachmentIDToDownload picks the document id holding the requested
// size of a, falling back to a.ID.
func GetAttachmentIDToDownload(ids []models.Identifier, size models.ImageSize, a *models.Attachment) string {
	for _, id := range ids {
		full, preview, thumb, ok := ParseIdentifierValue(id.Value)
		if !ok || full != a.ID {
			continue
		}
		var pick string
		switch size {
		case models.ImageSizeMedium:
			pick = preview
		case models.ImageSizeSmall:
			pick = thumb
		default:
			pick = full
		}
		if pick != "" {
			return pick
		}
		return a.ID
	}
	return a.ID
}

// SeparateOldAndNewAttachments splits current into attachments already
// stored with the previous version and ones that need uploading. A match is
// by hash first, then by id; matched attachments take the previous id.
func SeparateOldAndNewAttachments(current, previous []*models.Attachment) (old, fresh []*models.Attachment) {
	for _, c := range current {
		p := match(c, previous)
		if p == nil {
			fresh = append(fresh, c)
			continue
		}
		c.ID = p.ID
		if c.Hash == "" {
			c.Hash = p.Hash
		}
		if c.Size == 0 {
			c.Size = p.Size
		}
		old = append(old, c)
	}
	return old, fresh
}

func match(c *models.Attachment, previous []*models.Attachment) *models.Attachment {
	if c.Hash != "" {
		for _, p := range previous {
			if p.Hash == c.Hash {
				return p
			}
		}
	}
	if c.ID != "" {
		for _, p := range previous {
			if p.ID == c.ID {
				return p
			}
		}
	}
	return nil
}

// VerifyAttachmentPayload reports whether data matches a's recorded hash.
// Derivatives and attachments created before HashCutoff always pass.
func VerifyAttachmentPayload(p cryptox.Provider, a *models.Attachment, data []byte, isFullSize bool) bool {
	if !isFullSize {
		return true
	}
	if created, ok := a.CreationTime(); ok && created.Before(HashCutoff) {
		return true
	}
	return GetContentHash(p, data) == a.Hash
}
