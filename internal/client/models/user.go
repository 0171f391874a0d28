package models

import "github.com/dmitrijs2005/phrkeeper/internal/cryptox"

// User is the decrypted key state of one account. CommonKey is the currently
// active common key; TagEncryptionKey encrypts searchable tags.
type User struct {
	ID               string
	CommonKey        cryptox.SymKey
	CommonKeyID      string
	TagEncryptionKey cryptox.SymKey
}

// UserInfo is the identity returned by GET /userinfo.
type UserInfo struct {
	Sub   string `json:"sub"`
	AppID string `json:"app_id,omitempty"`
	Email string `json:"email,omitempty"`
}

// CommonKeyEntry is one RSA-wrapped common key in a key bundle.
type CommonKeyEntry struct {
	CommonKeyID string `json:"common_key_id"`
	CommonKey   string `json:"common_key"`
}

// KeyBundle is the current-app key bundle of a user: every common key the
// user ever had plus the tag-encryption key sealed under the active one.
type KeyBundle struct {
	AppID             string           `json:"app_id,omitempty"`
	ActiveCommonKeyID string           `json:"active_common_key_id"`
	CommonKeys        []CommonKeyEntry `json:"common_keys"`
	TagEncryptionKey  string           `json:"tag_encryption_key"`
}

// Find returns the entry for keyID or nil.
func (b *KeyBundle) Find(keyID string) *CommonKeyEntry {
	for i := range b.CommonKeys {
		if b.CommonKeys[i].CommonKeyID == keyID {
			return &b.CommonKeys[i]
		}
	}
	return nil
}
