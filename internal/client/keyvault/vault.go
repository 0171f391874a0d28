package keyvault

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
	"github.com/dmitrijs2005/phrkeeper/internal/logging"
)

var (
	ErrCommonKeyNotFound = errors.New("common key not found in key bundle")
	ErrNoPrivateKey      = errors.New("private key not installed")
	ErrNoCurrentUser     = errors.New("identity endpoint returned no subject")
)

// API is the part of the REST client the vault needs.
type API interface {
	FetchUserInfo(ctx context.Context) (*models.UserInfo, error)
	FetchKeyBundle(ctx context.Context, userID string) (*models.KeyBundle, error)
}

type Vault struct {
	api    API
	crypto cryptox.Provider
	log    logging.Logger

	mu            sync.RWMutex
	privateKey    *rsa.PrivateKey
	currentUserID string
	users         map[string]*models.User
	commonKeys    map[string]cryptox.SymKey
	// generation is bumped by Reset; fetches started under an older
	// generation do not populate the cache.
	generation uint64
	stopPoll   context.CancelFunc
	pollDone   chan struct{}

	group singleflight.Group
}

func New(api API, crypto cryptox.Provider, log logging.Logger) *Vault {
	if log == nil {
		log = logging.Discard()
	}
	return &Vault{
		api:        api,
		crypto:     crypto,
		log:        log.With("component", "keyvault"),
		users:      map[string]*models.User{},
		commonKeys: map[string]cryptox.SymKey{},
	}
}

func (v *Vault) SetPrivateKey(k *rsa.PrivateKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.privateKey = k
}

func (v *Vault) HasPrivateKey() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.privateKey != nil
}

func ckCacheKey(userID, keyID string) string {
	return userID + "|" + keyID
}

func (v *Vault) snapshot() (*rsa.PrivateKey, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.privateKey, v.generation
}

// CurrentUserID resolves the id of the signed-in user, asking the identity
// endpoint on first use.
func (v *Vault) CurrentUserID(ctx context.Context) (string, error) {
	v.mu.RLock()
	id, gen := v.currentUserID, v.generation
	v.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	res, err := v.shared(ctx, fmt.Sprintf("%d/me", gen), func(ctx context.Context) (any, error) {
		info, err := v.api.FetchUserInfo(ctx)
		if err != nil {
			return "", fmt.Errorf("fetch user info: %w", err)
		}
		if info.Sub == "" {
			return "", ErrNoCurrentUser
		}
		v.mu.Lock()
		if v.generation == gen {
			v.currentUserID = info.Sub
		}
		v.mu.Unlock()
		return info.Sub, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GetUser returns the decrypted key state of userID; an empty id means the
// signed-in user. It fails with *models.SetupError until a private key has
// been installed.
func (v *Vault) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if !v.HasPrivateKey() {
		return nil, &models.SetupError{Msg: "crypto not initialized", Err: ErrNoPrivateKey}
	}

	if userID == "" {
		id, err := v.CurrentUserID(ctx)
		if err != nil {
			return nil, err
		}
		userID = id
	}

	if u := v.cachedUser(userID); u != nil {
		return u, nil
	}

	_, gen := v.snapshot()
	res, err := v.shared(ctx, fmt.Sprintf("%d/user/%s", gen, userID), func(ctx context.Context) (any, error) {
		if u := v.cachedUser(userID); u != nil {
			return u, nil
		}
		return v.pullUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	u := *res.(*models.User)
	return &u, nil
}

// shared runs fn once per key for all concurrent callers. fn does not see
// the caller's cancellation; each caller stops waiting when its own ctx ends.
func (v *Vault) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := v.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *Vault) cachedUser(userID string) *models.User {
	v.mu.RLock()
	defer v.mu.RUnlock()
	u, ok := v.users[userID]
	if !ok {
		return nil
	}
	c := *u
	return &c
}

// pullUser fetches the key bundle, unwraps the active common key and the
// tag-encryption key and caches both.
func (v *Vault) pullUser(ctx context.Context, userID string) (*models.User, error) {
	priv, gen := v.snapshot()
	if priv == nil {
		return nil, &models.SetupError{Msg: "crypto not initialized", Err: ErrNoPrivateKey}
	}

	bundle, err := v.api.FetchKeyBundle(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch key bundle: %w", err)
	}

	entry := bundle.Find(bundle.ActiveCommonKeyID)
	if entry == nil {
		return nil, fmt.Errorf("%w: active key %s", ErrCommonKeyNotFound, bundle.ActiveCommonKeyID)
	}
	ck, err := v.unwrapCommonKey(priv, entry)
	if err != nil {
		return nil, err
	}

	sealedTEK, err := base64.StdEncoding.DecodeString(bundle.TagEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode tag encryption key: %w", err)
	}
	tek, err := cryptox.UnwrapKey(v.crypto, ck, sealedTEK)
	if err != nil {
		return nil, fmt.Errorf("unseal tag encryption key: %w", err)
	}

	u := &models.User{
		ID:               userID,
		CommonKey:        ck,
		CommonKeyID:      entry.CommonKeyID,
		TagEncryptionKey: tek,
	}

	v.mu.Lock()
	if v.generation == gen {
		v.users[userID] = u
		v.commonKeys[ckCacheKey(userID, entry.CommonKeyID)] = ck
	}
	v.mu.Unlock()

	v.log.Info(ctx, "user keys pulled", "user_id", userID, "common_key_id", entry.CommonKeyID)
	return u, nil
}

// GetCommonKey returns the decrypted common key keyID of userID, current or
// historical.
func (v *Vault) GetCommonKey(ctx context.Context, userID, keyID string) (cryptox.SymKey, error) {
	if !v.HasPrivateKey() {
		return cryptox.SymKey{}, &models.SetupError{Msg: "crypto not initialized", Err: ErrNoPrivateKey}
	}
	if userID == "" {
		id, err := v.CurrentUserID(ctx)
		if err != nil {
			return cryptox.SymKey{}, err
		}
		userID = id
	}

	cacheKey := ckCacheKey(userID, keyID)
	if k, ok := v.cachedCommonKey(cacheKey); ok {
		return k, nil
	}

	_, gen := v.snapshot()
	res, err := v.shared(ctx, fmt.Sprintf("%d/ck/%s", gen, cacheKey), func(ctx context.Context) (any, error) {
		if k, ok := v.cachedCommonKey(cacheKey); ok {
			return k, nil
		}
		return v.fetchCommonKey(ctx, userID, keyID)
	})
	if err != nil {
		return cryptox.SymKey{}, err
	}
	return res.(cryptox.SymKey), nil
}

func (v *Vault) cachedCommonKey(cacheKey string) (cryptox.SymKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	k, ok := v.commonKeys[cacheKey]
	return k, ok
}

func (v *Vault) fetchCommonKey(ctx context.Context, userID, keyID string) (cryptox.SymKey, error) {
	priv, gen := v.snapshot()
	if priv == nil {
		return cryptox.SymKey{}, &models.SetupError{Msg: "crypto not initialized", Err: ErrNoPrivateKey}
	}

	bundle, err := v.api.FetchKeyBundle(ctx, userID)
	if err != nil {
		return cryptox.SymKey{}, fmt.Errorf("fetch key bundle: %w", err)
	}
	entry := bundle.Find(keyID)
	if entry == nil {
		return cryptox.SymKey{}, fmt.Errorf("%w: %s", ErrCommonKeyNotFound, keyID)
	}
	ck, err := v.unwrapCommonKey(priv, entry)
	if err != nil {
		return cryptox.SymKey{}, err
	}

	v.mu.Lock()
	if v.generation == gen {
		v.commonKeys[ckCacheKey(userID, keyID)] = ck
	}
	v.mu.Unlock()
	return ck, nil
}

func (v *Vault) unwrapCommonKey(priv *rsa.PrivateKey, entry *models.CommonKeyEntry) (cryptox.SymKey, error) {
	wrapped, err := base64.StdEncoding.DecodeString(entry.CommonKey)
	if err != nil {
		return cryptox.SymKey{}, fmt.Errorf("decode common key %s: %w", entry.CommonKeyID, err)
	}
	ck, err := cryptox.UnwrapKeyAsym(v.crypto, priv, wrapped)
	if err != nil {
		return cryptox.SymKey{}, fmt.Errorf("unwrap common key %s: %w", entry.CommonKeyID, err)
	}
	return ck, nil
}

// RefreshCurrentUser re-pulls the signed-in user, picking up a rotated
// common key.
func (v *Vault) RefreshCurrentUser(ctx context.Context) error {
	id, err := v.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	_, err = v.pullUser(ctx, id)
	return err
}

// StartPolling refreshes the signed-in user every interval until Reset or
// the parent context ends. A second call replaces the running poll.
func (v *Vault) StartPolling(parent context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	v.stopPolling()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	v.mu.Lock()
	v.stopPoll = cancel
	v.pollDone = done
	v.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := v.RefreshCurrentUser(ctx); err != nil && ctx.Err() == nil {
					v.log.Warn(ctx, "identity refresh failed", "err", err)
				}
			}
		}
	}()
}

func (v *Vault) stopPolling() {
	v.mu.Lock()
	cancel, done := v.stopPoll, v.pollDone
	v.stopPoll, v.pollDone = nil, nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Reset stops polling, forgets the private key and clears every cache.
func (v *Vault) Reset() {
	v.stopPolling()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.generation++
	v.privateKey = nil
	v.currentUserID = ""
	v.users = map[string]*models.User{}
	v.commonKeys = map[string]cryptox.SymKey{}
}
