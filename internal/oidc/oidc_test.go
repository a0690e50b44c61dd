package oidc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeIDToken struct{ raw string }

func (f fakeIDToken) Claims(v interface{}) error { return json.Unmarshal([]byte(f.raw), v) }

func TestClaimsOf(t *testing.T) {
	claims, err := ClaimsOf(fakeIDToken{raw: `{"sub":"kc-1","email":"a@b.c","name":"A"}`})
	require.NoError(t, err)
	require.Equal(t, "kc-1", claims["sub"])
	require.Equal(t, "a@b.c", claims["email"])

	_, err = ClaimsOf(fakeIDToken{raw: `{"email":"a@b.c"}`})
	require.Error(t, err)

	_, err = ClaimsOf(fakeIDToken{raw: `not json`})
	require.Error(t, err)
}
