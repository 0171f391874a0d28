package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/phrkeeper/internal/client/client"
	"github.com/dmitrijs2005/phrkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
)

type fakeKeys struct {
	mu         sync.Mutex
	current    string
	commonKeys map[string]cryptox.SymKey
	tek        cryptox.SymKey
}

func newFakeKeys(t *testing.T, p cryptox.Provider) *fakeKeys {
	t.Helper()
	k := &fakeKeys{current: "k1", commonKeys: map[string]cryptox.SymKey{}}
	for _, id := range []string{"k1", "k2"} {
		ck, err := p.GenerateSymKey(cryptox.KeyTypeCommon)
		require.NoError(t, err)
		k.commonKeys[id] = ck
	}
	var err error
	k.tek, err = p.GenerateSymKey(cryptox.KeyTypeTag)
	require.NoError(t, err)
	return k
}

func (f *fakeKeys) rotate(to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = to
}

func (f *fakeKeys) CurrentUserID(ctx context.Context) (string, error) { return "u1", nil }

func (f *fakeKeys) GetUser(ctx context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.User{ID: userID, CommonKey: f.commonKeys[f.current], CommonKeyID: f.current, TagEncryptionKey: f.tek}, nil
}

func (f *fakeKeys) GetCommonKey(ctx context.Context, userID, keyID string) (cryptox.SymKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.commonKeys[keyID]
	if !ok {
		return cryptox.SymKey{}, keyvault.ErrCommonKeyNotFound
	}
	return k, nil
}

type fakeRecordAPI struct {
	mu        sync.Mutex
	records   map[string]*models.EncryptedRecord
	order     []string
	lastQuery *models.EncryptedQuery
	searchErr error
}

func newFakeRecordAPI() *fakeRecordAPI {
	return &fakeRecordAPI{records: map[string]*models.EncryptedRecord{}}
}

func (f *fakeRecordAPI) CreateRecord(ctx context.Context, userID string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *rec
	c.RecordID = uuid.NewString()
	c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	f.records[c.RecordID] = &c
	f.order = append(f.order, c.RecordID)
	out := c
	return &out, nil
}

func (f *fakeRecordAPI) UpdateRecord(ctx context.Context, userID, recordID string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[recordID]; !ok {
		return nil, client.ErrNotFound
	}
	c := *rec
	c.RecordID = recordID
	c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	f.records[recordID] = &c
	out := c
	return &out, nil
}

func (f *fakeRecordAPI) FetchRecord(ctx context.Context, userID, recordID string) (*models.EncryptedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[recordID]
	if !ok {
		return nil, client.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeRecordAPI) DeleteRecord(ctx context.Context, userID, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[recordID]; !ok {
		return client.ErrNotFound
	}
	delete(f.records, recordID)
	return nil
}

// SearchRecords matches when every include tag is present on the record.
func (f *fakeRecordAPI) SearchRecords(ctx context.Context, userID string, q *models.EncryptedQuery) ([]*models.EncryptedRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	var out []*models.EncryptedRecord
	for _, id := range f.order {
		r, ok := f.records[id]
		if !ok || !hasAll(r.EncryptedTags, q.Tags) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, len(out), nil
}

func (f *fakeRecordAPI) CountRecords(ctx context.Context, userID string, q *models.EncryptedQuery) (int, error) {
	recs, n, err := f.SearchRecords(ctx, userID, q)
	_ = recs
	return n, err
}

func hasAll(set, want []string) bool {
	for _, w := range want {
		found := false
		for _, s := range set {
			if s == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type fakeDocs struct {
	mu      sync.Mutex
	docs    map[string][]byte
	uploads atomic.Int32
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string][]byte{}}
}

func (f *fakeDocs) UploadDocument(ctx context.Context, userID string, data []byte) (string, error) {
	f.uploads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.docs[id] = append([]byte(nil), data...)
	return id, nil
}

func (f *fakeDocs) DownloadDocument(ctx context.Context, userID, documentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[documentID]
	if !ok {
		return nil, client.ErrNotFound
	}
	return d, nil
}

func (f *fakeDocs) replace(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = data
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 5 {
		img.Set(w/2, y, color.RGBA{G: 180, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageHeight(t *testing.T, data []byte) int {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Height
}
