package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	// KeyVersion is stamped into every serialized SymKey.
	KeyVersion = 1
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrInvalidKey        = errors.New("invalid key")
)

// KeyType names the role of a symmetric key in the hierarchy.
type KeyType string

const (
	KeyTypeCommon     KeyType = "ck"
	KeyTypeData       KeyType = "dk"
	KeyTypeAttachment KeyType = "ak"
	KeyTypeTag        KeyType = "tek"
)

// SymKey is a symmetric key with its role. Its JSON form is what gets wrapped
// under a common key or the user's RSA key.
type SymKey struct {
	Type    KeyType `json:"t"`
	Version int     `json:"v"`
	Sym     []byte  `json:"sym"`
}

// Provider is the primitives contract.
type Provider interface {
	GenerateSymKey(t KeyType) (SymKey, error)
	SymEncrypt(key SymKey, plaintext []byte) ([]byte, error)
	SymDecrypt(key SymKey, ciphertext []byte) ([]byte, error)
	AsymEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error)
	AsymDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)
	TagEncrypt(tek SymKey, plaintext []byte) ([]byte, error)
	TagDecrypt(tek SymKey, ciphertext []byte) ([]byte, error)
	Hash(data []byte) []byte
}

// AESProvider implements Provider with AES-256-GCM and RSA-OAEP(SHA-256).
type AESProvider struct{}

func NewProvider() *AESProvider {
	return &AESProvider{}
}

func (p *AESProvider) GenerateSymKey(t KeyType) (SymKey, error) {
	sym := make([]byte, KeySize)
	if _, err := rand.Read(sym); err != nil {
		return SymKey{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return SymKey{Type: t, Version: KeyVersion, Sym: sym}, nil
}

// SymEncrypt returns nonce||ciphertext.
func (p *AESProvider) SymEncrypt(key SymKey, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return seal(key.Sym, nonce, plaintext)
}

func (p *AESProvider) SymDecrypt(key SymKey, ciphertext []byte) ([]byte, error) {
	return open(key.Sym, ciphertext)
}

func (p *AESProvider) AsymEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

func (p *AESProvider) AsymDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Hash is the content digest used for attachment hashes (SHA-1, as FHIR
// Attachment.hash requires).
func (p *AESProvider) Hash(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

// ContentHash returns the base64 form of p.Hash(data).
func ContentHash(p Provider, data []byte) string {
	return base64.StdEncoding.EncodeToString(p.Hash(data))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func seal(key, nonce, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, NonceSize+len(ciphertext))
	copy(result, nonce)
	copy(result[NonceSize:], ciphertext)
	return result, nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
