package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/phrkeeper/internal/common"
	"github.com/dmitrijs2005/phrkeeper/internal/logging"
)

const (
	DefaultRateLimit  = 10
	DefaultMaxRetries = 2

	// tokens are renewed this long before their exp claim
	expirySkew = 10 * time.Second

	tokenPath       = "/oauth/token"
	ownerTokenGrant = "owner_token"
)

// TokenRefresher returns a fresh master access token.
type TokenRefresher func(ctx context.Context) (string, error)

// RequestOptions describes one submission. At most one of JSON and Body is
// used; JSON wins.
type RequestOptions struct {
	Query       url.Values
	Header      http.Header
	JSON        any
	Body        []byte
	ContentType string

	// Unauthenticated requests carry no Authorization header and are never
	// retried on 401.
	Unauthenticated bool

	// OwnerID is the user whose resources are addressed. An owner different
	// from the master token's subject is served with a delegated token.
	OwnerID string
}

// Response is a fully read HTTP answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Transport submits authenticated requests against one API base URL.
type Transport struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	refresh    TokenRefresher
	log        logging.Logger

	mu          sync.Mutex
	master      string
	masterOwner string
	masterExp   time.Time
	delegated   map[string]string

	group singleflight.Group
}

type Option func(*Transport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.http = c }
}

// WithRateLimit sets the admission rate in requests per second. Zero or less
// disables admission control.
func WithRateLimit(perSecond float64) Option {
	return func(t *Transport) { t.limiter = newLimiter(perSecond) }
}

func WithMaxRetries(n int) Option {
	return func(t *Transport) { t.maxRetries = n }
}

func WithTokenRefresher(f TokenRefresher) Option {
	return func(t *Transport) { t.refresh = f }
}

func WithAccessToken(token string) Option {
	return func(t *Transport) { t.setMaster(token) }
}

func WithLogger(l logging.Logger) Option {
	return func(t *Transport) { t.log = l }
}

func NewTransport(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    newLimiter(DefaultRateLimit),
		maxRetries: DefaultMaxRetries,
		log:        logging.Discard(),
		delegated:  map[string]string{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// AdmissionInterval is the spacing between two dispatches for the given
// rate: ceil(1000/perSecond) milliseconds.
func AdmissionInterval(perSecond float64) time.Duration {
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(1000/perSecond)) * time.Millisecond
}

func newLimiter(perSecond float64) *rate.Limiter {
	interval := AdmissionInterval(perSecond)
	if interval == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// SetMasterOwner records the user id the master token belongs to. It is
// needed for opaque tokens whose subject cannot be read.
func (t *Transport) SetMasterOwner(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.masterOwner = id
}

// MasterOwner returns the user id of the master token, if known.
func (t *Transport) MasterOwner() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.masterOwner
}

// Submit performs the exchange. A 401 answer is retried after renewing the
// token the request was sent with, up to the retry budget.
func (t *Transport) Submit(ctx context.Context, method, path string, opts RequestOptions) (*Response, error) {
	body, contentType, err := opts.payload()
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		var token string
		if !opts.Unauthenticated {
			token, err = t.token(ctx, opts.OwnerID)
			if err != nil {
				return nil, err
			}
		}

		resp, err := t.dispatch(ctx, method, path, opts, body, contentType, token)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && !opts.Unauthenticated &&
			attempt < t.maxRetries && t.canRenew(opts.OwnerID) {
			t.invalidate(opts.OwnerID, token)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: resp.Body}
		}
		return resp, nil
	}
}

func (o RequestOptions) payload() ([]byte, string, error) {
	if o.JSON != nil {
		b, err := json.Marshal(o.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode request: %w", err)
		}
		return b, common.ContentTypeJSON, nil
	}
	ct := o.ContentType
	if ct == "" && o.Body != nil {
		ct = common.ContentTypeOctetStream
	}
	return o.Body, ct, nil
}

func (t *Transport) dispatch(ctx context.Context, method, path string, opts RequestOptions, body []byte, contentType, token string) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := t.baseURL + path
	if len(opts.Query) > 0 {
		u += "?" + opts.Query.Encode()
	}

	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}

	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(common.RequestIDHeaderName, uuid.NewString())
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	t.log.Debug(ctx, "request dispatched", "method", method, "path", path, "status", resp.StatusCode)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (t *Transport) isDelegated(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return owner != "" && t.masterOwner != "" && owner != t.masterOwner
}

func (t *Transport) canRenew(owner string) bool {
	if t.isDelegated(owner) {
		return true
	}
	return t.refresh != nil
}

func (t *Transport) token(ctx context.Context, owner string) (string, error) {
	if t.isDelegated(owner) {
		return t.delegatedToken(ctx, owner)
	}
	return t.masterToken(ctx)
}

func (t *Transport) masterToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	tok, exp := t.master, t.masterExp
	t.mu.Unlock()

	if tok != "" && (exp.IsZero() || time.Now().Add(expirySkew).Before(exp)) {
		return tok, nil
	}
	if t.refresh == nil {
		if tok != "" {
			// expired, but only the server can tell for sure
			return tok, nil
		}
		return "", ErrNoTokenSource
	}
	return t.renewMaster(ctx)
}

func (t *Transport) renewMaster(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do("master", func() (any, error) {
		tok, err := t.refresh(ctx)
		if err != nil {
			return "", fmt.Errorf("refresh access token: %w", err)
		}
		if tok == "" {
			return "", common.ErrInvalidToken
		}
		t.setMaster(tok)
		t.log.Info(ctx, "access token renewed")
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *Transport) setMaster(tok string) {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.master = tok
	t.masterExp = time.Time{}
	if err != nil {
		return
	}
	if claims.Subject != "" {
		t.masterOwner = claims.Subject
	}
	if claims.ExpiresAt != nil {
		t.masterExp = claims.ExpiresAt.Time
	}
}

func (t *Transport) delegatedToken(ctx context.Context, owner string) (string, error) {
	t.mu.Lock()
	tok, ok := t.delegated[owner]
	t.mu.Unlock()
	if ok {
		return tok, nil
	}

	v, err, _ := t.group.Do("owner:"+owner, func() (any, error) {
		resp, err := t.Submit(ctx, http.MethodPost, tokenPath, RequestOptions{
			JSON: map[string]string{"grant_type": ownerTokenGrant, "owner_id": owner},
		})
		if err != nil {
			return "", fmt.Errorf("fetch token for owner %s: %w", owner, err)
		}
		var out struct {
			AccessToken string `json:"access_token"`
		}
		if err := resp.DecodeJSON(&out); err != nil {
			return "", err
		}
		if out.AccessToken == "" {
			return "", common.ErrInvalidToken
		}
		t.mu.Lock()
		t.delegated[owner] = out.AccessToken
		t.mu.Unlock()
		t.log.Info(ctx, "delegated token fetched", "owner_id", owner)
		return out.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// invalidate drops the token a rejected request was sent with, unless a
// concurrent request already replaced it.
func (t *Transport) invalidate(owner, used string) {
	delegated := t.isDelegated(owner)

	t.mu.Lock()
	defer t.mu.Unlock()
	if delegated {
		if t.delegated[owner] == used {
			delete(t.delegated, owner)
		}
		return
	}
	if t.master == used {
		t.master = ""
	}
}
