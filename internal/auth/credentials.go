package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Users maps faculty usernames to bcrypt password hashes.
type Users map[string]string

// ParseUsers reads "user:hash,user:hash" from config. Malformed entries are
// skipped.
func ParseUsers(raw string) Users {
	users := Users{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			continue
		}
		users[pair[:idx]] = pair[idx+1:]
	}
	return users
}

// Check verifies a username/password pair against the stored hash.
func (u Users) Check(username, password string) bool {
	hash, ok := u[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
