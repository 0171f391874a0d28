// Package envelope encrypts record bodies, attachment blobs and tags for one
// user. Data and attachment keys are wrapped under the user's common keys,
// which are borrowed from the key vault on every call and never kept here.
package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
)

// KeySource resolves decrypted key state; implemented by keyvault.Vault.
type KeySource interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetCommonKey(ctx context.Context, userID, keyID string) (cryptox.SymKey, error)
}

type Service struct {
	userID string
	keys   KeySource
	crypto cryptox.Provider
}

func New(userID string, keys KeySource, crypto cryptox.Provider) *Service {
	return &Service{userID: userID, keys: keys, crypto: crypto}
}

func (s *Service) UserID() string { return s.userID }

// ParseOrPopulateDataKey decrypts edk, or mints a new key of type t wrapped
// under the user's current common key when edk is empty.
func (s *Service) ParseOrPopulateDataKey(ctx context.Context, edk *models.EncryptedDataKey, t cryptox.KeyType) (cryptox.SymKey, *models.EncryptedDataKey, error) {
	if !edk.IsZero() {
		k, err := s.decryptDataKey(ctx, edk)
		if err != nil {
			return cryptox.SymKey{}, nil, err
		}
		return k, edk, nil
	}

	user, err := s.keys.GetUser(ctx, s.userID)
	if err != nil {
		return cryptox.SymKey{}, nil, err
	}
	k, err := s.crypto.GenerateSymKey(t)
	if err != nil {
		return cryptox.SymKey{}, nil, err
	}
	wrapped, err := s.wrap(user, k)
	if err != nil {
		return cryptox.SymKey{}, nil, err
	}
	return k, wrapped, nil
}

func (s *Service) wrap(user *models.User, k cryptox.SymKey) (*models.EncryptedDataKey, error) {
	raw, err := cryptox.WrapKey(s.crypto, user.CommonKey, k)
	if err != nil {
		return nil, fmt.Errorf("wrap %s key: %w", k.Type, err)
	}
	return &models.EncryptedDataKey{
		CommonKeyID:  user.CommonKeyID,
		EncryptedKey: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func (s *Service) decryptDataKey(ctx context.Context, edk *models.EncryptedDataKey) (cryptox.SymKey, error) {
	ck, err := s.keys.GetCommonKey(ctx, s.userID, edk.CommonKeyID)
	if err != nil {
		return cryptox.SymKey{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(edk.EncryptedKey)
	if err != nil {
		return cryptox.SymKey{}, fmt.Errorf("%w: %v", cryptox.ErrInvalidKey, err)
	}
	k, err := cryptox.UnwrapKey(s.crypto, ck, raw)
	if err != nil {
		return cryptox.SymKey{}, fmt.Errorf("unwrap data key under %s: %w", edk.CommonKeyID, err)
	}
	return k, nil
}

// EncryptString returns the base64 ciphertext of plaintext.
func (s *Service) EncryptString(ctx context.Context, plaintext string, edk *models.EncryptedDataKey) (string, *models.EncryptedDataKey, error) {
	k, edk, err := s.ParseOrPopulateDataKey(ctx, edk, cryptox.KeyTypeData)
	if err != nil {
		return "", nil, err
	}
	ct, err := s.crypto.SymEncrypt(k, []byte(plaintext))
	if err != nil {
		return "", nil, err
	}
	return base64.StdEncoding.EncodeToString(ct), edk, nil
}

// EncryptObject encrypts the JSON form of v.
func (s *Service) EncryptObject(ctx context.Context, v any, edk *models.EncryptedDataKey) (string, *models.EncryptedDataKey, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode object: %w", err)
	}
	return s.EncryptString(ctx, string(raw), edk)
}

// EncryptBlobs encrypts every blob with one attachment key.
func (s *Service) EncryptBlobs(ctx context.Context, blobs [][]byte, edk *models.EncryptedDataKey) ([][]byte, *models.EncryptedDataKey, error) {
	k, edk, err := s.ParseOrPopulateDataKey(ctx, edk, cryptox.KeyTypeAttachment)
	if err != nil {
		return nil, nil, err
	}
	out := make([][]byte, len(blobs))
	for i, b := range blobs {
		ct, err := s.crypto.SymEncrypt(k, b)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt blob %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, edk, nil
}

func (s *Service) DecryptData(ctx context.Context, edk *models.EncryptedDataKey, ciphertext []byte) ([]byte, error) {
	if edk.IsZero() {
		return nil, fmt.Errorf("%w: missing data key", cryptox.ErrInvalidKey)
	}
	k, err := s.decryptDataKey(ctx, edk)
	if err != nil {
		return nil, err
	}
	return s.crypto.SymDecrypt(k, ciphertext)
}

func (s *Service) DecryptString(ctx context.Context, edk *models.EncryptedDataKey, b64 string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cryptox.ErrInvalidCiphertext, err)
	}
	pt, err := s.DecryptData(ctx, edk, ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func (s *Service) DecryptObject(ctx context.Context, edk *models.EncryptedDataKey, b64 string, v any) error {
	pt, err := s.DecryptString(ctx, edk, b64)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(pt), v); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	return nil
}

// UpdateKeys re-wraps keys under the user's current common key. When every
// non-nil key already names the current common key id the input is returned
// as is and nothing is decrypted. Nil entries stay nil.
func (s *Service) UpdateKeys(ctx context.Context, keys ...*models.EncryptedDataKey) ([]*models.EncryptedDataKey, error) {
	user, err := s.keys.GetUser(ctx, s.userID)
	if err != nil {
		return nil, err
	}

	current := true
	for _, k := range keys {
		if !k.IsZero() && k.CommonKeyID != user.CommonKeyID {
			current = false
			break
		}
	}
	if current {
		return keys, nil
	}

	plain := make([]*cryptox.SymKey, len(keys))
	for i, k := range keys {
		if k.IsZero() {
			continue
		}
		dk, err := s.decryptDataKey(ctx, k)
		if err != nil {
			return nil, err
		}
		plain[i] = &dk
	}

	out := make([]*models.EncryptedDataKey, len(keys))
	for i, dk := range plain {
		if dk == nil {
			continue
		}
		out[i], err = s.wrap(user, *dk)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncryptTags encrypts each tag with the user's tag-encryption key. Equal
// tags yield equal ciphertexts so the server can match them.
func (s *Service) EncryptTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return []string{}, nil
	}
	user, err := s.keys.GetUser(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		ct, err := s.crypto.TagEncrypt(user.TagEncryptionKey, []byte(t))
		if err != nil {
			return nil, fmt.Errorf("encrypt tag: %w", err)
		}
		out[i] = base64.StdEncoding.EncodeToString(ct)
	}
	return out, nil
}

func (s *Service) DecryptTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return []string{}, nil
	}
	user, err := s.keys.GetUser(ctx, s.userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		ct, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cryptox.ErrInvalidCiphertext, err)
		}
		pt, err := s.crypto.TagDecrypt(user.TagEncryptionKey, ct)
		if err != nil {
			return nil, fmt.Errorf("decrypt tag: %w", err)
		}
		out[i] = string(pt)
	}
	return out, nil
}
