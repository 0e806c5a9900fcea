package promptlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestResolveName(t *testing.T) {
	assert.Equal(t, "sv-SE_General", ResolveName("sven", "sven_sv-SE_General"))
	assert.Equal(t, "sv-SE_General", ResolveName("sven", "sv-SE_General"))
	assert.Equal(t, "other_list", ResolveName("sven", "other_list"))
}

func TestResolveNames_Deduplicates(t *testing.T) {
	got := ResolveNames("sven", []string{"sven_sv-SE_Chat", "sv-SE_Chat", "sv-SE_General"})
	assert.Equal(t, []string{"sv-SE_Chat", "sv-SE_General"}, got)
}

func writePromptList(t *testing.T, voicesDir, profile, name, content string) {
	t.Helper()
	dir := filepath.Join(voicesDir, profile, "prompts")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".txt"), []byte(content), 0o644))
}

func TestLoad_SkipsBlankLines(t *testing.T) {
	voices := t.TempDir()
	writePromptList(t, voices, "sven", "sv-SE_Chat", "Hej!\n\n  Hur mår du?  \n")

	list, err := Load(voices, "sven", "sv-SE_Chat")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hej!", "Hur mår du?"}, list.Prompts)
	assert.Equal(t, 2, list.Len())
}

func TestList_ReturnsTxtStems(t *testing.T) {
	voices := t.TempDir()
	writePromptList(t, voices, "sven", "sv-SE_Chat", "Hej")
	writePromptList(t, voices, "sven", "sv-SE_General", "Hej")
	require.NoError(t, os.WriteFile(filepath.Join(voices, "sven", "prompts", "notes.md"), []byte("x"), 0o644))

	names, err := List(voices, "sven")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sv-SE_Chat", "sv-SE_General"}, names)
}

func TestList_MissingProfile(t *testing.T) {
	names, err := List(t.TempDir(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDetectLanguage(t *testing.T) {
	english := PromptList{Prompts: []string{
		"The quick brown fox jumps over the lazy dog.",
		"Please read this sentence clearly and at a natural pace.",
		"Recording high quality audio requires a quiet room.",
	}}
	tag := DetectLanguage(english)
	assert.Equal(t, language.English, tag)

	assert.Equal(t, language.Und, DetectLanguage(PromptList{}))
}
