package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSession_IssueAndVerify(t *testing.T) {
	token, err := IssueSession(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	username, err := VerifySession(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, "alice", username)
}

func TestSession_WrongSecretRejected(t *testing.T) {
	token, err := IssueSession(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	_, err = VerifySession("another-secret-another-secret-xx", token)
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSession_ExpiredRejected(t *testing.T) {
	token, err := IssueSession(testSecret, "alice", -time.Minute)
	require.NoError(t, err)

	_, err = VerifySession(testSecret, token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSession_GarbageRejected(t *testing.T) {
	_, err := VerifySession(testSecret, "not-a-token")
	require.ErrorIs(t, err, ErrSessionInvalid)
}
