// Package token hashes access tokens for server-side session bookkeeping.
//
// The session store never sees a plain token. It keeps a 64-char hex digest:
//   - HMAC-SHA256(token, key) when SPENDSYNC_TOKEN_HMAC_KEY is configured;
//   - SHA-256(token) otherwise (development only, refused when HMAC is required).
//
// Digests are compared with Equal, which is constant time.
package token
