package connection

import "github.com/google/uuid"

// Token identifies the caller that holds a reservation. Any string works, e.g.
// a request id or a worker name. A token holds at most one connection at a time.
type Token string

// NewToken creates a random token
func NewToken() Token {
	return Token(uuid.NewString())
}
