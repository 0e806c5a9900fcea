package checkpoints

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed catalog.json
var catalogJSON []byte

// DownloadSource says how a base model is obtained. The two variants make
// the manual-only case impossible to miss at compile time instead of being
// a null URL check.
type DownloadSource interface {
	isDownloadSource()
}

// AutomaticDownload carries the direct checkpoint URL and an optional
// model config URL.
type AutomaticDownload struct {
	URL       string
	ConfigURL string
}

// ManualDownload points at a page the user must visit themselves, with the
// exact instructions to follow.
type ManualDownload struct {
	URL          string
	Instructions string
}

func (AutomaticDownload) isDownloadSource() {}
func (ManualDownload) isDownloadSource()    {}

// CatalogEntry describes one downloadable base model.
type CatalogEntry struct {
	LanguageCode string
	VoiceID      string
	DisplayName  string
	Gender       string
	Quality      string
	Description  string
	PhonemeSet   string
	SampleRate   int
	SpeakerID    int
	Download     DownloadSource
}

// Key returns the "{lang}.{voice}" catalog key.
func (e CatalogEntry) Key() string {
	return e.LanguageCode + "." + e.VoiceID
}

// Catalog is the static, versioned manifest of known base models. Lookup
// is pure and local; no network is involved.
type Catalog struct {
	entries map[string]map[string]CatalogEntry // lang -> voice -> entry
}

// rawCatalogEntry matches the embedded manifest layout. A null
// download_url marks a manual-only model.
type rawCatalogEntry struct {
	Name               string  `json:"name"`
	Gender             string  `json:"gender"`
	Quality            string  `json:"quality"`
	Description        string  `json:"description"`
	URL                *string `json:"url"`
	ConfigURL          *string `json:"config_url"`
	PhonemeSet         string  `json:"phoneme_type"`
	SampleRate         int     `json:"sample_rate"`
	SpeakerID          int     `json:"speaker_id"`
	ManualDownloadURL  string  `json:"manual_download_url"`
	ManualInstructions string  `json:"manual_instructions"`
}

// DefaultCatalog loads the embedded manifest.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogJSON)
}

// ParseCatalog builds a Catalog from manifest JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]map[string]rawCatalogEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse checkpoint catalog: %w", err)
	}

	catalog := &Catalog{entries: make(map[string]map[string]CatalogEntry)}
	for lang, voices := range raw {
		catalog.entries[lang] = make(map[string]CatalogEntry, len(voices))
		for voiceID, r := range voices {
			entry := CatalogEntry{
				LanguageCode: lang,
				VoiceID:      voiceID,
				DisplayName:  r.Name,
				Gender:       r.Gender,
				Quality:      r.Quality,
				Description:  r.Description,
				PhonemeSet:   r.PhonemeSet,
				SampleRate:   r.SampleRate,
				SpeakerID:    r.SpeakerID,
			}
			if r.URL != nil && *r.URL != "" {
				auto := AutomaticDownload{URL: *r.URL}
				if r.ConfigURL != nil {
					auto.ConfigURL = *r.ConfigURL
				}
				entry.Download = auto
			} else {
				entry.Download = ManualDownload{
					URL:          r.ManualDownloadURL,
					Instructions: r.ManualInstructions,
				}
			}
			catalog.entries[lang][voiceID] = entry
		}
	}
	return catalog, nil
}

// NewCatalog builds a catalog from explicit entries, mainly for tests.
func NewCatalog(entries ...CatalogEntry) *Catalog {
	catalog := &Catalog{entries: make(map[string]map[string]CatalogEntry)}
	for _, entry := range entries {
		if catalog.entries[entry.LanguageCode] == nil {
			catalog.entries[entry.LanguageCode] = make(map[string]CatalogEntry)
		}
		catalog.entries[entry.LanguageCode][entry.VoiceID] = entry
	}
	return catalog
}

// Lookup returns the entry for (languageCode, voiceID).
func (c *Catalog) Lookup(languageCode, voiceID string) (CatalogEntry, bool) {
	voices, ok := c.entries[languageCode]
	if !ok {
		return CatalogEntry{}, false
	}
	entry, ok := voices[voiceID]
	return entry, ok
}

// Languages lists the catalog's language codes, sorted.
func (c *Catalog) Languages() []string {
	ret := make([]string, 0, len(c.entries))
	for lang := range c.entries {
		ret = append(ret, lang)
	}
	sort.Strings(ret)
	return ret
}

// Voices lists the entries for one language, sorted by voice id.
func (c *Catalog) Voices(languageCode string) []CatalogEntry {
	voices := c.entries[languageCode]
	ret := make([]CatalogEntry, 0, len(voices))
	for _, entry := range voices {
		ret = append(ret, entry)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].VoiceID < ret[j].VoiceID })
	return ret
}

// Recommended picks the preferred base model for a language: gender match
// first when requested, then high quality, then the first voice.
func (c *Catalog) Recommended(languageCode, genderPreference string) (CatalogEntry, bool) {
	candidates := c.Voices(languageCode)
	if len(candidates) == 0 {
		return CatalogEntry{}, false
	}
	if genderPreference != "" {
		matched := make([]CatalogEntry, 0, len(candidates))
		for _, entry := range candidates {
			if strings.EqualFold(entry.Gender, genderPreference) {
				matched = append(matched, entry)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		}
	}
	for _, entry := range candidates {
		if strings.EqualFold(entry.Quality, "high") {
			return entry, true
		}
	}
	return candidates[0], true
}
