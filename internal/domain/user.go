package domain

import "time"

// User represents a registered account. Users are created on registration and
// live for the process lifetime; only their session state is transient.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
