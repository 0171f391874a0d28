package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/phrkeeper/internal/client/services"
	"github.com/dmitrijs2005/phrkeeper/internal/common"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
	"github.com/dmitrijs2005/phrkeeper/internal/filex"
)

// maxKeyFileSize bounds the private key file read at login.
const maxKeyFileSize = 1 << 20

var errNotLoggedIn = errors.New("not logged in")

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login asks for an access token and a private key file, sets up a session
// and remembers both in the metadata store.
func (a *App) Login(ctx context.Context, args []string) error {
	token, err := getPassword(a.out, "Enter access token: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(token)

	keyPath, err := getSimpleText(a.reader, fmt.Sprintf("Private key file [%s]", a.config.PrivateKeyPath), a.out)
	if err != nil {
		return err
	}
	if keyPath == "" {
		keyPath = a.config.PrivateKeyPath
	}

	if err := a.open(ctx, string(token), keyPath); err != nil {
		a.log.Error(ctx, "login unsuccessful", "err", err)
		return err
	}

	if err := a.authService.SaveSession(ctx, services.SavedSession{
		UserID:      a.userID,
		AccessToken: string(token),
		KeyPath:     keyPath,
	}); err != nil {
		a.log.Warn(ctx, "session not saved", "err", err)
	}

	fmt.Fprintf(a.out, "Logged in as %s\n", a.userID)
	return nil
}

// restore logs in with the saved session, if there is one.
func (a *App) restore(ctx context.Context) error {
	saved, err := a.authService.LoadSession(ctx)
	if errors.Is(err, services.ErrNoSavedSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.open(ctx, saved.AccessToken, saved.KeyPath); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	fmt.Fprintf(a.out, "Welcome back, %s\n", a.userID)
	return nil
}

func (a *App) open(ctx context.Context, token, keyPath string) error {
	if keyPath == "" {
		return errors.New("private key file is required")
	}
	data, err := filex.ReadLimited(keyPath, maxKeyFileSize)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}

	priv, err := cryptox.LoadPrivateKey(a.crypto, data, func() ([]byte, error) {
		return getPassword(a.out, "Key passphrase: ")
	})
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}

	sess, err := newSession(ctx, a.config, token, a.log)
	if err != nil {
		return err
	}
	u, err := sess.Setup(ctx, priv)
	if err != nil {
		_ = sess.Close()
		return err
	}

	a.closeSession()
	a.sess = sess
	a.userID = u.ID
	return nil
}

// Logout forgets the saved session and all key material in memory.
func (a *App) Logout(ctx context.Context, args []string) error {
	if err := a.authService.ClearSession(ctx); err != nil {
		return err
	}
	a.closeSession()
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// writeErr is shared by commands that report errors to the user.
func writeErr(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}
