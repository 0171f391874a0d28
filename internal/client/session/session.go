// Package session owns the lifecycle of a signed-in client: it wires the
// transport, key vault, document store and record engine together and
// exposes Setup / Reset / Close in place of process-wide state.
package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/phrkeeper/internal/client/blobstore"
	"github.com/dmitrijs2005/phrkeeper/internal/client/client"
	"github.com/dmitrijs2005/phrkeeper/internal/client/config"
	"github.com/dmitrijs2005/phrkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/client/services"
	"github.com/dmitrijs2005/phrkeeper/internal/client/tags"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
	"github.com/dmitrijs2005/phrkeeper/internal/logging"
)

var (
	ErrUnknownBackend = errors.New("unknown document backend")
	ErrClosed         = errors.New("session closed")
)

type Session struct {
	cfg       *config.Config
	log       logging.Logger
	crypto    cryptox.Provider
	http      *http.Client
	transport *client.Transport
	api       *client.HTTPClient
	vault     *keyvault.Vault
	docs      services.DocumentStore
	records   services.RecordService

	refresh client.TokenRefresher
	token   string

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

type Option func(*Session)

func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.http = c }
}

func WithCrypto(p cryptox.Provider) Option {
	return func(s *Session) { s.crypto = p }
}

// WithAccessToken seeds the transport with a master token.
func WithAccessToken(token string) Option {
	return func(s *Session) { s.token = token }
}

// WithTokenRefresher lets the transport renew the master token on 401.
func WithTokenRefresher(f client.TokenRefresher) Option {
	return func(s *Session) { s.refresh = f }
}

// WithDocumentStore overrides the backend selected by cfg.DocumentBackend.
func WithDocumentStore(d services.DocumentStore) Option {
	return func(s *Session) { s.docs = d }
}

// New builds a session from cfg. No network call is made until Setup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:    cfg,
		log:    logging.Discard(),
		crypto: cryptox.NewProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: cfg.RequestTimeout}
	}

	topts := []client.Option{
		client.WithHTTPClient(s.http),
		client.WithRateLimit(cfg.RateLimit),
		client.WithMaxRetries(cfg.MaxAuthRetries),
		client.WithLogger(s.log),
	}
	if s.token != "" {
		topts = append(topts, client.WithAccessToken(s.token))
	}
	if s.refresh != nil {
		topts = append(topts, client.WithTokenRefresher(s.refresh))
	}
	s.transport = client.NewTransport(cfg.APIBaseURL, topts...)
	s.api = client.NewHTTPClient(s.transport)
	s.vault = keyvault.New(s.api, s.crypto, s.log)

	if s.docs == nil {
		docs, err := s.documentStore(ctx)
		if err != nil {
			return nil, err
		}
		s.docs = docs
	}

	s.records = services.NewRecordService(s.api, s.docs, s.vault, s.crypto,
		services.WithLogger(s.log),
		services.WithTagGenerator(tags.Generator{ClientID: cfg.ClientID, PartnerID: cfg.PartnerID}),
	)

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return s, nil
}

func (s *Session) documentStore(ctx context.Context) (services.DocumentStore, error) {
	switch s.cfg.DocumentBackend {
	case "", config.DocumentBackendAPI:
		return s.api, nil
	case config.DocumentBackendS3:
		store, err := blobstore.New(ctx, blobstore.Config{
			Bucket:       s.cfg.S3Bucket,
			Region:       s.cfg.S3Region,
			BaseEndpoint: s.cfg.S3BaseEndpoint,
			AccessKey:    s.cfg.S3AccessKey,
			SecretKey:    s.cfg.S3SecretKey,
		}, s.http)
		if err != nil {
			return nil, fmt.Errorf("s3 document store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, s.cfg.DocumentBackend)
	}
}

// Setup installs the private key, resolves the signed-in user and pulls
// their keys. It starts the identity refresh poll when PollInterval > 0.
func (s *Session) Setup(ctx context.Context, priv *rsa.PrivateKey) (*models.User, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if priv == nil {
		return nil, &models.SetupError{Msg: "private key is required", Err: keyvault.ErrNoPrivateKey}
	}

	s.vault.SetPrivateKey(priv)

	id, err := s.vault.CurrentUserID(ctx)
	if err != nil {
		s.vault.Reset()
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	s.transport.SetMasterOwner(id)

	u, err := s.vault.GetUser(ctx, id)
	if err != nil {
		s.vault.Reset()
		return nil, err
	}

	s.vault.StartPolling(s.ctx, s.cfg.PollInterval)
	s.log.Info(ctx, "session ready", "user_id", id)
	return u, nil
}

func (s *Session) Records() services.RecordService {
	return s.records
}

func (s *Session) Vault() *keyvault.Vault {
	return s.vault
}

func (s *Session) Transport() *client.Transport {
	return s.transport
}

// UserID is the signed-in user, or "" before Setup.
func (s *Session) UserID() string {
	return s.transport.MasterOwner()
}

// Reset drops all key material and caches; Setup must be called again.
func (s *Session) Reset() {
	s.vault.Reset()
	s.transport.SetMasterOwner("")
}

// Close resets the session and stops background work. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.Reset()
	return nil
}
