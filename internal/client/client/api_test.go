package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
)

func newTestAPI(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(NewTransport(srv.URL, WithAccessToken("tok"), WithRateLimit(0)))
}

func TestHTTPClient_SearchRecords(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/u1/records", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "a,b", q.Get("tags"))
		assert.Equal(t, "c", q.Get("exclude_tags"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "2020-01-01", q.Get("start_date"))
		assert.Empty(t, q.Get("offset"))

		w.Header().Set("X-Total-Count", "42")
		_ = json.NewEncoder(w).Encode([]models.EncryptedRecord{{RecordID: "r1"}, {RecordID: "r2"}})
	})

	recs, total, err := api.SearchRecords(context.Background(), "u1", &models.EncryptedQuery{
		Tags:        []string{"a", "b"},
		ExcludeTags: []string{"c"},
		Limit:       20,
		StartDate:   "2020-01-01",
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r2", recs[1].RecordID)
	assert.Equal(t, 42, total)
}

func TestHTTPClient_CountRecordsUsesHead(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("X-Total-Count", "7")
	})

	n, err := api.CountRecords(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestHTTPClient_CountRecordsMissingHeader(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := api.CountRecords(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestHTTPClient_CreateRecord(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in models.EncryptedRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "body", in.EncryptedBody)
		in.RecordID = "r9"
		in.CreatedAt = "2024-05-01T10:00:00Z"
		_ = json.NewEncoder(w).Encode(in)
	})

	out, err := api.CreateRecord(context.Background(), "u1", &models.EncryptedRecord{EncryptedBody: "body", ModelVersion: models.ModelVersion})
	require.NoError(t, err)
	assert.Equal(t, "r9", out.RecordID)
}

func TestHTTPClient_Documents(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/users/u1/documents", r.URL.Path)
			assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, []byte{1, 2, 3}, b)
			_, _ = w.Write([]byte(`{"document_id":"d1"}`))
		case http.MethodGet:
			assert.Equal(t, "/users/u1/documents/d1", r.URL.Path)
			_, _ = w.Write([]byte{1, 2, 3})
		}
	})

	id, err := api.UploadDocument(context.Background(), "u1", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	data, err := api.DownloadDocument(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestHTTPClient_FetchRecordNotFound(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := api.FetchRecord(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPClient_FetchKeyBundle(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/keys/users/u1/current-app", r.URL.Path)
		_, _ = w.Write([]byte(`{"app_id":"app","active_common_key_id":"k2","common_keys":[{"common_key_id":"k1","common_key":"AA=="},{"common_key_id":"k2","common_key":"AQ=="}],"tag_encryption_key":"Ag=="}`))
	})

	b, err := api.FetchKeyBundle(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "k2", b.ActiveCommonKeyID)
	require.NotNil(t, b.Find("k1"))
	assert.Nil(t, b.Find("k3"))
}
