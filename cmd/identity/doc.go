// Package identity is the credential store: users, their roles and their
// hashed secrets.
//
// It does not issue sessions. The session authority reads credentials from
// here and is the only writer of a user's last-login bookkeeping.
package identity
