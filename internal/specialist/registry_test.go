package specialist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/pkg/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBuiltins(t *testing.T) {
	defs := Builtins()
	var ids []string
	for _, d := range defs {
		ids = append(ids, d.ID)
		assert.Equal(t, SourceBundled, d.Source)
		assert.NotEmpty(t, d.SystemPrompt)
		assert.True(t, d.DefaultModelTier.Valid())
	}
	assert.Equal(t, []string{"architect", "debugger", "reviewer", "tester", "documenter"}, ids)

	defs[0].SystemPrompt = "mutated"
	assert.NotEqual(t, "mutated", Builtins()[0].SystemPrompt)
}

func TestLoadDirYAMLAndMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "security.yaml", `
id: security
name: Security Auditor
role: auditor
default_model_tier: smart
system_prompt: Look for vulnerabilities.
`)
	writeFile(t, dir, "planner.md", `---
id: planner
name: Planner
role: planner
---
Break the work into ordered tasks.
`)
	writeFile(t, dir, "notes.txt", "ignored")

	r := NewRegistry(nil)
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sec, ok := r.Get("security")
	require.True(t, ok)
	assert.Equal(t, models.TierSmart, sec.DefaultModelTier)
	assert.Equal(t, SourceFile, sec.Source)
	assert.Equal(t, filepath.Join(dir, "security.yaml"), sec.Path)

	planner, ok := r.Get("planner")
	require.True(t, ok)
	assert.Equal(t, "Break the work into ordered tasks.", planner.SystemPrompt)
	assert.Equal(t, models.TierBalanced, planner.DefaultModelTier, "tier defaults to balanced")
}

func TestLoadDirSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "id: [unterminated")
	writeFile(t, dir, "noprompt.yaml", "id: empty\nname: Empty\n")
	writeFile(t, dir, "badtier.yml", "id: x\nsystem_prompt: hi\ndefault_model_tier: huge\n")
	writeFile(t, dir, "nofront.md", "just a body")
	writeFile(t, dir, "good.yml", "system_prompt: fine\n")

	r := NewRegistry(nil)
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	good, ok := r.Get("good")
	require.True(t, ok, "id defaults to the file name")
	assert.Equal(t, "good", good.Name)
}

func TestLoadDirUnreadable(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.Empty(t, r.Dirs())
}

func TestFileDefinitionShadowsBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reviewer.yaml", "id: reviewer\nname: Strict Reviewer\nsystem_prompt: Be strict.\n")

	r := NewRegistry(nil)
	_, err := r.LoadDir(dir)
	require.NoError(t, err)

	d, ok := r.Get("reviewer")
	require.True(t, ok)
	assert.Equal(t, "Strict Reviewer", d.Name)

	list := r.List()
	require.Len(t, list, 5)
	for _, d := range list {
		if d.ID == "reviewer" {
			assert.Equal(t, SourceFile, d.Source)
		}
	}
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestLaterLoadOverwrites(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, first, "a.yaml", "id: shared\nsystem_prompt: first\n")
	writeFile(t, second, "b.yaml", "id: shared\nsystem_prompt: second\n")

	r := NewRegistry(nil)
	_, err := r.LoadDir(first)
	require.NoError(t, err)
	_, err = r.LoadDir(second)
	require.NoError(t, err)

	d, _ := r.Get("shared")
	assert.Equal(t, "second", d.SystemPrompt)
	assert.Equal(t, []string{first, second}, r.Dirs())
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Resolve("nobody")
	assert.True(t, errs.IsNotFound(err))

	d, err := r.Resolve("tester")
	require.NoError(t, err)
	assert.Equal(t, SourceBundled, d.Source)
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "one.yaml", "id: one\nsystem_prompt: v1\n")

	r := NewRegistry(nil)
	_, err := r.LoadDir(dir)
	require.NoError(t, err)

	writeFile(t, dir, "one.yaml", "id: one\nsystem_prompt: v2\n")
	writeFile(t, dir, "two.yaml", "id: two\nsystem_prompt: new\n")
	require.NoError(t, r.Reload())

	one, _ := r.Get("one")
	assert.Equal(t, "v2", one.SystemPrompt)
	_, ok := r.Get("two")
	assert.True(t, ok)

	require.NoError(t, os.Remove(path))
	require.NoError(t, r.Reload())
	_, ok = r.Get("one")
	assert.False(t, ok)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(nil)
	_, err := r.LoadDir(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "live.yaml", "id: live\nsystem_prompt: hot\n")

	assert.Eventually(t, func() bool {
		_, ok := r.Get("live")
		return ok
	}, 5*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
