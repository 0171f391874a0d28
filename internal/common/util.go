package common

// WipeByteArray overwrites b with zeros. Used for secrets (access tokens,
// passphrases) that are no longer needed. A nil slice is ignored.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
