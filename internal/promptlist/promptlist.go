package promptlist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// PromptList is a named, ordered sequence of prompts a speaker reads during
// recording. Lists live as plain text files under voices/{profile}/prompts/.
type PromptList struct {
	Name    string   `json:"name"`
	Profile string   `json:"profile"`
	Prompts []string `json:"prompts"`
}

func (p PromptList) Len() int {
	return len(p.Prompts)
}

// ResolveName strips the "{profileID}_" prefix the recording UI attaches to
// prompt-list identifiers. IDs without the prefix resolve to themselves, so
// both "sven_sv-SE_General" and "sv-SE_General" name the same list for
// profile "sven".
func ResolveName(profileID, promptListID string) string {
	prefix := profileID + "_"
	if strings.HasPrefix(promptListID, prefix) {
		return promptListID[len(prefix):]
	}
	return promptListID
}

// ResolveNames resolves a set of prompt-list IDs to canonical names,
// de-duplicating collisions.
func ResolveNames(profileID string, promptListIDs []string) []string {
	seen := make(map[string]struct{}, len(promptListIDs))
	ret := make([]string, 0, len(promptListIDs))
	for _, id := range promptListIDs {
		name := ResolveName(profileID, id)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		ret = append(ret, name)
	}
	return ret
}

// Load reads one prompt list file. Blank lines are skipped; prompt order is
// file order.
func Load(voicesDir, profileID, name string) (PromptList, error) {
	path := filepath.Join(voicesDir, profileID, "prompts", name+".txt")
	f, err := os.Open(path)
	if err != nil {
		return PromptList{}, fmt.Errorf("open prompt list %s: %w", name, err)
	}
	defer f.Close()

	ret := PromptList{Name: name, Profile: profileID}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ret.Prompts = append(ret.Prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return PromptList{}, fmt.Errorf("read prompt list %s: %w", name, err)
	}
	return ret, nil
}

// List returns the prompt list names available for a profile.
func List(voicesDir, profileID string) ([]string, error) {
	dir := filepath.Join(voicesDir, profileID, "prompts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ret := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		ret = append(ret, strings.TrimSuffix(entry.Name(), ".txt"))
	}
	return ret, nil
}

// DetectLanguage guesses the language of a prompt list from its text and
// returns a BCP 47 tag. Used to suggest a checkpoint catalog language for
// fine-tuning. Returns language.Und when detection is unreliable.
func DetectLanguage(list PromptList) language.Tag {
	sample := strings.Join(list.Prompts, " ")
	if strings.TrimSpace(sample) == "" {
		return language.Und
	}

	info := whatlanggo.Detect(sample)
	if !info.IsReliable() {
		return language.Und
	}
	tag, err := language.Parse(info.Lang.Iso6391())
	if err != nil {
		return language.Und
	}
	return tag
}
