// Package keyvault owns the decrypted key state of signed-in users.
//
// A pull fetches the user's identity and current-app key bundle, unwraps the
// active common key with the installed RSA private key and unseals the
// tag-encryption key with it. Historical common keys are unwrapped on demand.
//
// Concurrent lookups of the same user or the same (user, common key id) pair
// share one in-flight fetch; results are cached until Reset.
package keyvault
