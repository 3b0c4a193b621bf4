package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestParseUsers(t *testing.T) {
	users := ParseUsers("alice:hash1, bob:hash2,,broken,:nohash,nouser:")
	assert.Equal(t, Users{"alice": "hash1", "bob": "hash2"}, users)
}

func TestCheck(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	users := Users{"alice": string(hash)}

	assert.True(t, users.Check("alice", "s3cret"))
	assert.False(t, users.Check("alice", "wrong"))
	assert.False(t, users.Check("nobody", "s3cret"))
}

func TestIssueParseRoundtrip(t *testing.T) {
	token, _, err := Issue("alice", "faculty", "qrattend", "signing-key", time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, "signing-key", "qrattend")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "faculty", claims.Role)

	_, err = Parse(token, "other-key", "qrattend")
	assert.Error(t, err)

	_, err = Parse(token, "signing-key", "other-issuer")
	assert.Error(t, err)
}
