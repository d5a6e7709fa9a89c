package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_SealOpen(t *testing.T) {
	box, err := New("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, box.Enabled())

	sealed, err := box.Seal("canvas-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, prefix))
	assert.NotContains(t, sealed, "canvas-token")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "canvas-token", opened)
}

func TestBox_WrongKey(t *testing.T) {
	box, err := New("first")
	require.NoError(t, err)
	other, err := New("second")
	require.NoError(t, err)

	sealed, err := box.Seal("secret")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestBox_Disabled(t *testing.T) {
	box, err := New("")
	require.NoError(t, err)
	assert.False(t, box.Enabled())

	sealed, err := box.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	_, err = box.Open(prefix + "AAAA")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestBox_OpenPlaintext(t *testing.T) {
	box, err := New("key")
	require.NoError(t, err)

	opened, err := box.Open("legacy-value")
	require.NoError(t, err)
	assert.Equal(t, "legacy-value", opened)
}
