// Package client is the resilient request layer of phrkeeper.
//
// # Overview
//
// The package provides:
//  1. Transport: admission-controlled, authenticated HTTP submission. Requests
//     are released at a fixed interval (ceil(1000/rateLimit) ms, see
//     AdmissionInterval) regardless of caller concurrency. A 401 answer is
//     retried after renewing the access token, at most MaxAuthRetries times.
//  2. HTTPClient: typed calls for the REST surface (records, documents,
//     key bundles, identity) on top of Transport.
//
// # Tokens
//
// The master token belongs to the signed-in user and is renewed through the
// caller-supplied TokenRefresher. Requests that target another user's
// resources (Options.OwnerID differs from the master token's subject) use a
// per-owner token obtained from POST /oauth/token; on 401 only that owner's
// token is dropped and fetched again.
//
// # Error Handling
//
// Non-2xx answers surface as *HTTPError. errors.Is maps them onto
// ErrUnauthorized (401/403) and ErrNotFound (404); everything else is
// returned unchanged.
package client
