package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasher_Hash(t *testing.T) {
	t.Parallel()

	h := New()
	sum, err := h.Hash([]byte("<html></html>"))
	require.NoError(t, err)
	require.Len(t, sum, 64)

	again, err := h.Hash([]byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, sum, again)

	other, err := h.Hash([]byte("<html> </html>"))
	require.NoError(t, err)
	require.NotEqual(t, sum, other)
}
