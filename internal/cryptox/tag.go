package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const tagNonceInfo = "phrkeeper tag nonce v1"

// TagEncrypt is deterministic: equal (tek, plaintext) pairs always produce the
// same ciphertext, so the server can match encrypted tags in searches. The
// nonce is an HMAC of the plaintext under a subkey derived from the tek.
func (p *AESProvider) TagEncrypt(tek SymKey, plaintext []byte) ([]byte, error) {
	nonceKey, err := deriveTagNonceKey(tek.Sym)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, nonceKey)
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:NonceSize]

	return seal(tek.Sym, nonce, plaintext)
}

func (p *AESProvider) TagDecrypt(tek SymKey, ciphertext []byte) ([]byte, error) {
	return open(tek.Sym, ciphertext)
}

func deriveTagNonceKey(secret []byte) ([]byte, error) {
	if len(secret) != KeySize {
		return nil, ErrInvalidKey
	}
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(tagNonceInfo)), out); err != nil {
		return nil, fmt.Errorf("failed to derive tag nonce key: %w", err)
	}
	return out, nil
}
