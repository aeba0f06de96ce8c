package password

import "errors"

// Policy errors are safe to show to whoever is setting the password.
var (
	ErrPasswordTooShort       = errors.New("password: shorter than the policy minimum")
	ErrPasswordTooLong        = errors.New("password: longer than the policy maximum")
	ErrWeakPassword           = errors.New("password: too easy to guess")
	ErrPasswordHasAccountTerm = errors.New("password: contains the account email or name")
)

// ErrInvalidHash means a stored hash is neither Argon2id PHC nor bcrypt.
var ErrInvalidHash = errors.New("password: unrecognized hash format")
