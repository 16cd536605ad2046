package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	const secret = "cli-test-secret-0123456789"
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("JWT_ISSUER", "taskflow-test")
	t.Setenv("JWT_AUDIENCE", "authenticated")

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "u1", "--email", "ada@example.com", "--ttl", "10m"})
	require.NoError(t, cmd.Execute())

	verifier, err := auth.NewVerifier(auth.Config{
		SigningSecret: []byte(secret),
		Issuer:        "taskflow-test",
		Audience:      "authenticated",
	})
	require.NoError(t, err)

	claims, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommandRequiresUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-0123456789")

	cmd := tokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}
