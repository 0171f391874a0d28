package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/common"
)

// HTTPClient exposes the REST surface as typed calls.
type HTTPClient struct {
	t *Transport
}

func NewHTTPClient(t *Transport) *HTTPClient {
	return &HTTPClient{t: t}
}

func (c *HTTPClient) Transport() *Transport {
	return c.t
}

func (c *HTTPClient) FetchUserInfo(ctx context.Context) (*models.UserInfo, error) {
	resp, err := c.t.Submit(ctx, http.MethodGet, userInfoPath, RequestOptions{})
	if err != nil {
		return nil, err
	}
	var info models.UserInfo
	if err := resp.DecodeJSON(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) FetchKeyBundle(ctx context.Context, userID string) (*models.KeyBundle, error) {
	resp, err := c.t.Submit(ctx, http.MethodGet, keyBundlePath(userID), RequestOptions{OwnerID: userID})
	if err != nil {
		return nil, err
	}
	var b models.KeyBundle
	if err := resp.DecodeJSON(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *HTTPClient) CreateRecord(ctx context.Context, userID string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error) {
	resp, err := c.t.Submit(ctx, http.MethodPost, recordsPath(userID), RequestOptions{JSON: rec, OwnerID: userID})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp)
}

func (c *HTTPClient) UpdateRecord(ctx context.Context, userID, recordID string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error) {
	resp, err := c.t.Submit(ctx, http.MethodPut, recordPath(userID, recordID), RequestOptions{JSON: rec, OwnerID: userID})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp)
}

func (c *HTTPClient) FetchRecord(ctx context.Context, userID, recordID string) (*models.EncryptedRecord, error) {
	resp, err := c.t.Submit(ctx, http.MethodGet, recordPath(userID, recordID), RequestOptions{OwnerID: userID})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp)
}

func (c *HTTPClient) DeleteRecord(ctx context.Context, userID, recordID string) error {
	_, err := c.t.Submit(ctx, http.MethodDelete, recordPath(userID, recordID), RequestOptions{OwnerID: userID})
	return err
}

// SearchRecords returns one page of matching records plus the total number
// of matches reported in X-Total-Count.
func (c *HTTPClient) SearchRecords(ctx context.Context, userID string, q *models.EncryptedQuery) ([]*models.EncryptedRecord, int, error) {
	resp, err := c.t.Submit(ctx, http.MethodGet, recordsPath(userID), RequestOptions{Query: queryValues(q), OwnerID: userID})
	if err != nil {
		return nil, 0, err
	}
	var recs []*models.EncryptedRecord
	if err := resp.DecodeJSON(&recs); err != nil {
		return nil, 0, err
	}
	total, err := totalCount(resp)
	if err != nil {
		// older deployments omit the header on GET
		total = len(recs)
	}
	return recs, total, nil
}

func (c *HTTPClient) CountRecords(ctx context.Context, userID string, q *models.EncryptedQuery) (int, error) {
	resp, err := c.t.Submit(ctx, http.MethodHead, recordsPath(userID), RequestOptions{Query: queryValues(q), OwnerID: userID})
	if err != nil {
		return 0, err
	}
	return totalCount(resp)
}

// UploadDocument stores an encrypted blob and returns its server id.
func (c *HTTPClient) UploadDocument(ctx context.Context, userID string, data []byte) (string, error) {
	resp, err := c.t.Submit(ctx, http.MethodPost, documentsPath(userID), RequestOptions{
		Body:        data,
		ContentType: common.ContentTypeOctetStream,
		OwnerID:     userID,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		DocumentID string `json:"document_id"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return "", err
	}
	if out.DocumentID == "" {
		return "", ErrEmptyDocumentID
	}
	return out.DocumentID, nil
}

func (c *HTTPClient) DownloadDocument(ctx context.Context, userID, documentID string) ([]byte, error) {
	resp, err := c.t.Submit(ctx, http.MethodGet, documentPath(userID, documentID), RequestOptions{OwnerID: userID})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func decodeRecord(resp *Response) (*models.EncryptedRecord, error) {
	var rec models.EncryptedRecord
	if err := resp.DecodeJSON(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func queryValues(q *models.EncryptedQuery) url.Values {
	v := url.Values{}
	if q == nil {
		return v
	}
	if len(q.Tags) > 0 {
		v.Set("tags", strings.Join(q.Tags, ","))
	}
	if len(q.ExcludeTags) > 0 {
		v.Set("exclude_tags", strings.Join(q.ExcludeTags, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.StartDate != "" {
		v.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		v.Set("end_date", q.EndDate)
	}
	return v
}

func totalCount(resp *Response) (int, error) {
	raw := resp.Header.Get(common.TotalCountHeaderName)
	if raw == "" {
		return 0, ErrMissingTotal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMissingTotal, raw)
	}
	return n, nil
}
