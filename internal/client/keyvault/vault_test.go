package keyvault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
)

type fakeAPI struct {
	mu        sync.Mutex
	sub       string
	bundle    *models.KeyBundle
	infoCalls atomic.Int32
	keyCalls  atomic.Int32
	release   chan struct{}
	err       error
}

func (f *fakeAPI) FetchUserInfo(ctx context.Context) (*models.UserInfo, error) {
	f.infoCalls.Add(1)
	return &models.UserInfo{Sub: f.sub}, nil
}

func (f *fakeAPI) FetchKeyBundle(ctx context.Context, userID string) (*models.KeyBundle, error) {
	f.keyCalls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b := *f.bundle
	return &b, nil
}

func (f *fakeAPI) setBundle(b *models.KeyBundle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundle = b
}

type fixture struct {
	priv   *rsa.PrivateKey
	crypto cryptox.Provider
	keys   map[string]cryptox.SymKey
	tek    cryptox.SymKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := cryptox.NewProvider()
	f := &fixture{priv: priv, crypto: p, keys: map[string]cryptox.SymKey{}}
	for _, id := range []string{"k1", "k2", "k3"} {
		k, err := p.GenerateSymKey(cryptox.KeyTypeCommon)
		require.NoError(t, err)
		f.keys[id] = k
	}
	f.tek, err = p.GenerateSymKey(cryptox.KeyTypeTag)
	require.NoError(t, err)
	return f
}

func (f *fixture) bundle(t *testing.T, active string, ids ...string) *models.KeyBundle {
	t.Helper()
	b := &models.KeyBundle{AppID: "app", ActiveCommonKeyID: active}
	for _, id := range ids {
		w, err := cryptox.WrapKeyAsym(f.crypto, &f.priv.PublicKey, f.keys[id])
		require.NoError(t, err)
		b.CommonKeys = append(b.CommonKeys, models.CommonKeyEntry{CommonKeyID: id, CommonKey: base64.StdEncoding.EncodeToString(w)})
	}
	sealed, err := cryptox.WrapKey(f.crypto, f.keys[active], f.tek)
	require.NoError(t, err)
	b.TagEncryptionKey = base64.StdEncoding.EncodeToString(sealed)
	return b
}

func TestGetUser_RequiresPrivateKey(t *testing.T) {
	v := New(&fakeAPI{sub: "u1"}, cryptox.NewProvider(), nil)

	_, err := v.GetUser(context.Background(), "")
	var setupErr *models.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.ErrorIs(t, err, ErrNoPrivateKey)

	_, err = v.GetCommonKey(context.Background(), "u1", "k1")
	assert.ErrorAs(t, err, &setupErr)
}

func TestGetUser_PullsActiveKeyAndCaches(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k2", "k1", "k2")}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	u, err := v.GetUser(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "k2", u.CommonKeyID)
	assert.Equal(t, fx.keys["k2"], u.CommonKey)
	assert.Equal(t, fx.tek, u.TagEncryptionKey)

	_, err = v.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.keyCalls.Load())
	assert.Equal(t, int32(1), api.infoCalls.Load())

	// the active key is cached by the pull as well
	ck, err := v.GetCommonKey(context.Background(), "u1", "k2")
	require.NoError(t, err)
	assert.Equal(t, fx.keys["k2"], ck)
	assert.Equal(t, int32(1), api.keyCalls.Load())
}

func TestGetUser_ActiveKeyMissing(t *testing.T) {
	fx := newFixture(t)
	b := fx.bundle(t, "k2", "k2")
	b.ActiveCommonKeyID = "k9"
	v := New(&fakeAPI{sub: "u1", bundle: b}, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	_, err := v.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrCommonKeyNotFound)
}

func TestGetCommonKey_Historical(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k2", "k1", "k2")}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	ck, err := v.GetCommonKey(context.Background(), "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, fx.keys["k1"], ck)

	_, err = v.GetCommonKey(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, ErrCommonKeyNotFound)
}

func TestGetCommonKey_ConcurrentCallsShareOneFetch(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k2", "k1", "k2"), release: make(chan struct{})}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	const n = 16
	var wg sync.WaitGroup
	results := make([]cryptox.SymKey, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.GetCommonKey(context.Background(), "u1", "k1")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(api.release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fx.keys["k1"], results[i])
	}
	assert.Equal(t, int32(1), api.keyCalls.Load())
}

func TestGetCommonKey_CancelledCallerDoesNotFailOthers(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k2", "k1", "k2"), release: make(chan struct{})}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := v.GetCommonKey(ctxA, "u1", "k1")
		errA <- err
	}()
	require.Eventually(t, func() bool { return api.keyCalls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		key cryptox.SymKey
		err error
	}
	resB := make(chan result, 1)
	go func() {
		k, err := v.GetCommonKey(context.Background(), "u1", "k1")
		resB <- result{k, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(api.release)
	r := <-resB
	require.NoError(t, r.err)
	assert.Equal(t, fx.keys["k1"], r.key)
	assert.Equal(t, int32(1), api.keyCalls.Load())
}

func TestGetCommonKey_FetchErrorNotCached(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k2", "k1", "k2"), err: errors.New("network down")}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	_, err := v.GetCommonKey(context.Background(), "u1", "k1")
	require.Error(t, err)

	api.err = nil
	_, err = v.GetCommonKey(context.Background(), "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.keyCalls.Load())
}

func TestReset_ClearsCachesAndKey(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k2", "k1", "k2")}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	_, err := v.GetUser(context.Background(), "")
	require.NoError(t, err)

	v.Reset()
	assert.False(t, v.HasPrivateKey())

	_, err = v.GetUser(context.Background(), "")
	var setupErr *models.SetupError
	require.ErrorAs(t, err, &setupErr)

	v.SetPrivateKey(fx.priv)
	_, err = v.GetUser(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.keyCalls.Load())
	assert.Equal(t, int32(2), api.infoCalls.Load())
}

func TestStartPolling_PicksUpRotationAndStopsOnReset(t *testing.T) {
	fx := newFixture(t)
	api := &fakeAPI{sub: "u1", bundle: fx.bundle(t, "k1", "k1")}
	v := New(api, fx.crypto, nil)
	v.SetPrivateKey(fx.priv)

	u, err := v.GetUser(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "k1", u.CommonKeyID)

	api.setBundle(fx.bundle(t, "k2", "k1", "k2"))
	v.StartPolling(context.Background(), 10*time.Millisecond)

	require.Eventually(t, func() bool {
		u, err := v.GetUser(context.Background(), "")
		return err == nil && u.CommonKeyID == "k2"
	}, time.Second, 10*time.Millisecond)

	v.Reset()
	calls := api.keyCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, api.keyCalls.Load())
}
