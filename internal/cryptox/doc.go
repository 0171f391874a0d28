// Package cryptox is the crypto primitives provider used by the key vault and
// the envelope service.
//
// Provider is the fixed function contract the rest of the client composes:
// symmetric seal/open, asymmetric unwrap of common keys, the deterministic
// tag cipher and content hashing. AESProvider is the default implementation
// (AES-256-GCM with a random nonce prefixed to the ciphertext, RSA-OAEP with
// SHA-256). Protocol code never touches crypto/aes or crypto/rsa directly.
package cryptox
