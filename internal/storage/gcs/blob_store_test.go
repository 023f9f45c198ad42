package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "reviews"})
	require.ErrorContains(t, err, "client")
}
