// Package session is the session authority: it mints access tokens, keeps the
// single active session record per user, and answers "is this token valid
// right now".
//
// A user has at most one session record. Issuing a session upserts that record
// (keyed by user id), so every earlier token of the user stops validating even
// though its signature and expiry are still fine. Logout deletes the record.
//
// Tokens are PASETO v4.public by default (Ed25519) or HS256 JWTs. Either way
// the claims are a small versioned structure (v, uid, role, sid, iat, exp, iss)
// checked field by field after the signature. The store keeps only a hash of
// the token (see cmd/security/token).
//
// Validation fails closed: if the store cannot answer within the configured
// timeout the token is rejected with ErrStoreUnavailable.
package session
