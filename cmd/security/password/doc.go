// Package password hashes and verifies user secrets.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Hashes imported from the previous bcrypt-based deployment ($2a$, $2b$, $2y$)
// still verify; NeedsRehash tells the caller to upgrade them after a
// successful login. Stored hashes are untrusted input and are bounds-checked
// before any expensive work.
package password
