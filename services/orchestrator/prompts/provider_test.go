// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the prompt provider.

package prompts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedDefaults(t *testing.T) {
	p, err := NewProvider("")
	require.NoError(t, err)
	defer p.Close()

	for _, advisor := range []string{StateSelector, ResponseGenerator, MasterDecider} {
		text := p.Get(advisor)
		assert.NotEmpty(t, text, "advisor %s", advisor)
		assert.Contains(t, text, "JSON", "advisor %s must pin the output contract", advisor)
	}

	assert.NotEqual(t, p.Get(StateSelector), p.Get(ResponseGenerator))
	assert.Empty(t, p.Get("unknown_advisor"))
}

func TestDirectoryOverrideAtStartup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state_selector.txt"), []byte("prompt custom\n"), 0o644))

	p, err := NewProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "prompt custom", p.Get(StateSelector))
	assert.Contains(t, p.Get(ResponseGenerator), "JSON", "advisors without overrides keep defaults")
}

func TestEmptyOverrideKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master_decider.txt"), []byte("  \n"), 0o644))

	p, err := NewProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	assert.Contains(t, p.Get(MasterDecider), "árbitro final")
}

func TestHotReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	original := p.Get(StateSelector)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state_selector.txt"), []byte("versão dois"), 0o644))

	assert.Eventually(t, func() bool {
		return p.Get(StateSelector) == "versão dois"
	}, 3*time.Second, 10*time.Millisecond)
	assert.NotEqual(t, original, p.Get(StateSelector))
}

func TestRevertOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "response_generator.txt")
	require.NoError(t, os.WriteFile(path, []byte("override"), 0o644))

	p, err := NewProvider(dir)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, "override", p.Get(ResponseGenerator))

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		return p.Get(ResponseGenerator) != "override"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, p.Get(ResponseGenerator), "JSON")
}

func TestIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	before := p.Get(StateSelector)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("rascunho"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state_selector.bak"), []byte("rascunho"), 0o644))

	// Give the watcher a beat to process the events it should ignore.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, p.Get(StateSelector))
}

func TestNewProviderRejectsMissingDir(t *testing.T) {
	_, err := NewProvider(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
