package promptstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadAndGet(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "models/seedream-v4/activation.md", "activation doc")
	writeDoc(t, dir, "models/seedream-v4/research.md", "research doc")
	writeDoc(t, dir, "guides/fonts.md", "fonts guide")
	writeDoc(t, dir, "rubrics/edit.md", "edit rubric")

	s, err := New(dir)
	require.NoError(t, err)

	ctx := context.Background()

	doc, err := s.Get(ctx, ActivationKey("seedream-v4"))
	require.NoError(t, err)
	assert.Equal(t, "activation doc", doc)

	doc, err = s.Get(ctx, ResearchKey("seedream-v4"))
	require.NoError(t, err)
	assert.Equal(t, "research doc", doc)

	assert.Equal(t, "fonts guide", s.GetOrEmpty(ctx, FontsGuideKey))
	doc, err = s.Get(ctx, RubricKey("edit"))
	require.NoError(t, err)
	assert.Equal(t, "edit rubric", doc)
}

func TestGetMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "models/unknown/activation.md")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.GetOrEmpty(context.Background(), "nope.md"))
}

func TestWatchReloadsChangedDocument(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "guides/fonts.md", "v1")

	s, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	writeDoc(t, dir, "guides/fonts.md", "v2")

	require.Eventually(t, func() bool {
		return s.GetOrEmpty(context.Background(), FontsGuideKey) == "v2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestKVKeyMapping(t *testing.T) {
	assert.Equal(t, "models.seedream-v4.activation", kvKey(ActivationKey("seedream-v4")))
	assert.Equal(t, "guides.fonts", kvKey(FontsGuideKey))
}
