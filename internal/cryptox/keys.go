package cryptox

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	ErrNoPEMBlock          = errors.New("no PEM block found")
	ErrUnsupportedKeyType  = errors.New("unsupported private key type")
	ErrPassphraseRequired  = errors.New("private key is sealed, passphrase required")
	ErrUnknownSealedFormat = errors.New("unknown sealed key format")
)

// WrapKey seals key's JSON form under wrapping.
func WrapKey(p Provider, wrapping SymKey, key SymKey) ([]byte, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	return p.SymEncrypt(wrapping, raw)
}

// UnwrapKey is the inverse of WrapKey.
func UnwrapKey(p Provider, wrapping SymKey, wrapped []byte) (SymKey, error) {
	raw, err := p.SymDecrypt(wrapping, wrapped)
	if err != nil {
		return SymKey{}, err
	}
	return decodeSymKey(raw)
}

// WrapKeyAsym seals key's JSON form for the owner of pub. Used for common
// keys; clients only ever unwrap, the sealing side is the key server.
func WrapKeyAsym(p Provider, pub *rsa.PublicKey, key SymKey) ([]byte, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	return p.AsymEncrypt(pub, raw)
}

func UnwrapKeyAsym(p Provider, priv *rsa.PrivateKey, wrapped []byte) (SymKey, error) {
	raw, err := p.AsymDecrypt(priv, wrapped)
	if err != nil {
		return SymKey{}, err
	}
	return decodeSymKey(raw)
}

func decodeSymKey(raw []byte) (SymKey, error) {
	var k SymKey
	if err := json.Unmarshal(raw, &k); err != nil {
		return SymKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(k.Sym) != KeySize {
		return SymKey{}, ErrInvalidKey
	}
	return k, nil
}

// ParsePrivateKeyPEM accepts PKCS#8 and PKCS#1 RSA private keys.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}

	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrUnsupportedKeyType
	}
	return rsaKey, nil
}

// sealedPrivateKey is the on-disk form of a passphrase-protected key.
type sealedPrivateKey struct {
	Format     string `json:"format"`
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
}

const sealedFormat = "phrkeeper-sealed-rsa-v1"

// DeriveKey stretches a passphrase into an AES-256 key with argon2id.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// SealPrivateKey encrypts priv (PKCS#8 DER) under a passphrase-derived key.
func SealPrivateKey(p Provider, priv *rsa.PrivateKey, passphrase []byte, salt []byte) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	kek := SymKey{Type: KeyTypeData, Version: KeyVersion, Sym: DeriveKey(passphrase, salt)}
	ciphertext, err := p.SymEncrypt(kek, der)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealedPrivateKey{Format: sealedFormat, Salt: salt, Ciphertext: ciphertext})
}

// OpenPrivateKey reverses SealPrivateKey. A wrong passphrase yields ErrAuthFailed.
func OpenPrivateKey(p Provider, data []byte, passphrase []byte) (*rsa.PrivateKey, error) {
	var sealed sealedPrivateKey
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSealedFormat, err)
	}
	if sealed.Format != sealedFormat {
		return nil, ErrUnknownSealedFormat
	}

	kek := SymKey{Type: KeyTypeData, Version: KeyVersion, Sym: DeriveKey(passphrase, sealed.Salt)}
	der, err := p.SymDecrypt(kek, sealed.Ciphertext)
	if err != nil {
		return nil, err
	}

	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrUnsupportedKeyType
	}
	return rsaKey, nil
}

// LoadPrivateKey reads either a PEM key or a sealed key file. passphrase is
// only called for sealed files.
func LoadPrivateKey(p Provider, data []byte, passphrase func() ([]byte, error)) (*rsa.PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		return ParsePrivateKeyPEM(data)
	}
	if passphrase == nil {
		return nil, ErrPassphraseRequired
	}
	pass, err := passphrase()
	if err != nil {
		return nil, err
	}
	return OpenPrivateKey(p, data, pass)
}
