package cli

import (
	"bufio"
	"context"
	"crypto/rsa"
	"database/sql"
	"io"
	"os"

	"github.com/dmitrijs2005/phrkeeper/internal/client/config"
	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/phrkeeper/internal/client/services"
	"github.com/dmitrijs2005/phrkeeper/internal/client/session"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
	"github.com/dmitrijs2005/phrkeeper/internal/logging"
)

// sessionHandle is the part of *session.Session the CLI drives.
type sessionHandle interface {
	Setup(ctx context.Context, priv *rsa.PrivateKey) (*models.User, error)
	Records() services.RecordService
	Close() error
}

// newSession is a test seam for session.New.
var newSession = func(ctx context.Context, cfg *config.Config, token string, log logging.Logger) (sessionHandle, error) {
	return session.New(ctx, cfg, session.WithAccessToken(token), session.WithLogger(log))
}

type App struct {
	config      *config.Config
	log         logging.Logger
	crypto      cryptox.Provider
	db          *sql.DB
	authService services.AuthService
	sess        sessionHandle
	userID      string
	reader      *bufio.Reader
	out         io.Writer
}

func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	db, err := metadata.InitDatabase(ctx, c.MetadataDSN)
	if err != nil {
		log.Error(ctx, "error initializing database", "dsn", c.MetadataDSN, "err", err)
		return nil, err
	}

	return &App{
		config:      c,
		log:         log,
		crypto:      cryptox.NewProvider(),
		db:          db,
		authService: services.NewAuthService(db),
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.Close()
	a.Root(ctx)
}

// Close ends the session and releases the metadata database.
func (a *App) Close() error {
	a.closeSession()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *App) closeSession() {
	if a.sess != nil {
		_ = a.sess.Close()
		a.sess = nil
	}
	a.userID = ""
}

func (a *App) isLoggedIn() bool {
	return a.sess != nil
}

func (a *App) records() services.RecordService {
	return a.sess.Records()
}
