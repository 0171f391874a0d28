// Package cli provides the interactive phrkeeper command-line client.
//
// It wires configuration, the local metadata store and a client session,
// then runs a REPL over the record engine. A saved login is restored on
// start, so the access token and key file are only asked for once.
//
// Key features:
//   - Login / Logout (access token + RSA private key, PEM or sealed)
//   - Search, count and show records
//   - Upload a file as a DocumentReference, download attachments
//   - Delete records
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App, Root and runREPL for details.
package cli
