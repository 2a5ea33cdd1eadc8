package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civicledger/approvald/internal/models"
)

type failingProvider struct{}

func (failingProvider) CallerID() (string, error) { return "", errors.New("no cert") }
func (failingProvider) CallerAttribute(string) (string, bool, error) {
	return "", false, nil
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		want     models.Actor
		wantErr  error
	}{
		{
			name:     "officer",
			provider: NewStatic("o1", models.RoleOfficer),
			want:     models.Actor{ID: "o1", Role: models.RoleOfficer},
		},
		{
			name:     "role normalized",
			provider: &Static{ID: "c1", Attributes: map[string]string{"role": " Chairman "}},
			want:     models.Actor{ID: "c1", Role: models.RoleChairman},
		},
		{
			name:     "missing role",
			provider: &Static{ID: "x"},
			wantErr:  ErrNoRole,
		},
		{
			name:     "unknown role",
			provider: &Static{ID: "x", Attributes: map[string]string{"role": "admin"}},
			wantErr:  models.ErrInvalidRole,
		},
		{
			name:     "empty caller",
			provider: NewStatic("", models.RoleCitizen),
			wantErr:  ErrNoCaller,
		},
		{
			name:     "provider failure",
			provider: failingProvider{},
			wantErr:  ErrNoCaller,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.provider)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "approvald")
	token, err := v.Issue("u1", "officer", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)

	actor, err := Resolve(claims)
	require.NoError(t, err)
	require.Equal(t, models.Actor{ID: "u1", Role: models.RoleOfficer}, actor)
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "approvald")

	t.Run("wrong secret", func(t *testing.T) {
		other := NewVerifier([]byte("other"), "approvald")
		token, err := other.Issue("u1", "officer", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		issued := time.Now().Add(-2 * time.Hour)
		past := NewVerifier([]byte("test-secret"), "approvald")
		past.now = func() time.Time { return issued }
		token, err := past.Issue("u1", "officer", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewVerifier([]byte("test-secret"), "someone-else")
		token, err := other.Issue("u1", "officer", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("not.a.token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}
