package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "exports"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "exports", Prefix: "/reviews/"})
	require.NoError(t, err)
	assert.Equal(t, "reviews/B0B2VRF2W9/1.jsonl", store.ObjectName("/B0B2VRF2W9/1.jsonl"))

	bare, err := New(&storage.Client{}, Config{Bucket: "exports"})
	require.NoError(t, err)
	assert.Equal(t, "B0B2VRF2W9/1.jsonl", bare.ObjectName("B0B2VRF2W9/1.jsonl"))
}
