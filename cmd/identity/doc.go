// Package identity holds huddle's user accounts.
//
// It defines the User model, the Store persistence boundary with an in-memory
// and a PostgreSQL implementation, and the typed errors the HTTP layer maps to
// status codes.
package identity
