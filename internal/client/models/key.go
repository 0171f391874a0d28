package models

// EncryptedDataKey is a data or attachment key wrapped under the common key
// identified by CommonKeyID. EncryptedKey is base64.
type EncryptedDataKey struct {
	CommonKeyID  string
	EncryptedKey string
}

// IsZero reports whether k carries no key.
func (k *EncryptedDataKey) IsZero() bool {
	return k == nil || k.EncryptedKey == ""
}
