package domain

import "time"

// ID is an opaque comparable user identifier. The identity service issues
// UUIDs; nothing in the hub depends on the format beyond comparability.
type ID string

func (id ID) String() string {
	return string(id)
}

type User struct {
	ID        ID
	Username  string
	Email     string
	CreatedAt time.Time
}

type Summary struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}
