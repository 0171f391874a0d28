package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/phrkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/phrkeeper/internal/dbx"
)

// ErrNoSavedSession is returned by LoadSession when nobody is logged in.
var ErrNoSavedSession = errors.New("no saved session")

const (
	metaUserID      = "user_id"
	metaAccessToken = "access_token"
	metaKeyPath     = "private_key_path"
)

// SavedSession is what the CLI remembers between runs.
type SavedSession struct {
	UserID      string
	AccessToken string
	KeyPath     string
}

// AuthService persists the CLI login state in the local metadata store.
//
// Contract:
//   - SaveSession: store user id, access token and key path atomically.
//   - LoadSession: return the saved state or ErrNoSavedSession.
//   - UpdateToken: replace the access token after a renewal.
//   - ClearSession: wipe everything (logout).
type AuthService interface {
	SaveSession(ctx context.Context, s SavedSession) error
	LoadSession(ctx context.Context) (*SavedSession, error)
	UpdateToken(ctx context.Context, token string) error
	ClearSession(ctx context.Context) error
}

// authService is the concrete AuthService backed by a local SQL database.
type authService struct {
	db *sql.DB
}

// NewAuthService constructs an AuthService bound to the given DB.
func NewAuthService(db *sql.DB) AuthService {
	return &authService{db: db}
}

func (a *authService) getMetadataRepo(db dbx.DBTX) *metadata.SQLiteRepository {
	return metadata.NewSQLiteRepository(db)
}

// SaveSession overwrites any earlier session in a single transaction.
func (a *authService) SaveSession(ctx context.Context, s SavedSession) error {
	if s.UserID == "" || s.AccessToken == "" {
		return fmt.Errorf("save session: user id and access token are required")
	}

	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.getMetadataRepo(tx)
		if err := repo.Clear(ctx); err != nil {
			return err
		}
		return repo.SetAll(ctx, map[string][]byte{
			metaUserID:      []byte(s.UserID),
			metaAccessToken: []byte(s.AccessToken),
			metaKeyPath:     []byte(s.KeyPath),
		})
	})
}

func (a *authService) LoadSession(ctx context.Context) (*SavedSession, error) {
	values, err := a.getMetadataRepo(a.db).List(ctx)
	if err != nil {
		return nil, err
	}

	s := &SavedSession{
		UserID:      string(values[metaUserID]),
		AccessToken: string(values[metaAccessToken]),
		KeyPath:     string(values[metaKeyPath]),
	}
	if s.UserID == "" || s.AccessToken == "" {
		return nil, ErrNoSavedSession
	}
	return s, nil
}

func (a *authService) UpdateToken(ctx context.Context, token string) error {
	repo := a.getMetadataRepo(a.db)
	current, err := repo.Get(ctx, metaAccessToken)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNoSavedSession
	}
	return repo.Set(ctx, metaAccessToken, []byte(token))
}

// ClearSession wipes locally cached login state (e.g., on logout).
func (a *authService) ClearSession(ctx context.Context) error {
	return a.getMetadataRepo(a.db).Clear(ctx)
}
