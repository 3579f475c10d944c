// Package i18n holds the message catalogs controllers reply with.
package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Language is the catalog for one language code. Keys missing from it are
// looked up in the fallback language.
type Language struct {
	Code     string
	messages map[string]string
	fallback *Language
}

// T returns the message for key formatted with args. An unknown key is
// returned as-is.
func (l *Language) T(key string, args ...any) string {
	for lang := l; lang != nil; lang = lang.fallback {
		if msg, ok := lang.messages[key]; ok {
			if len(args) > 0 {
				return fmt.Sprintf(msg, args...)
			}
			return msg
		}
	}
	return key
}

// Localization is a set of languages with a default.
type Localization struct {
	mu       sync.RWMutex
	fallback string
	langs    map[string]map[string]string
}

// New creates a Localization whose default language is fallback.
func New(fallback string) *Localization {
	return &Localization{
		fallback: normalize(fallback),
		langs:    make(map[string]map[string]string),
	}
}

// Add registers or replaces the messages of a language.
func (l *Localization) Add(code string, messages map[string]string) {
	cp := make(map[string]string, len(messages))
	for k, v := range messages {
		cp[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.langs[normalize(code)] = cp
}

// LoadDir replaces all languages with the "<code>.json" files in dir. Each
// file holds a flat object of key to message. On error nothing is replaced.
func (l *Localization) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("list languages: %w", err)
	}

	langs := make(map[string]map[string]string, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var messages map[string]string
		if err := json.Unmarshal(data, &messages); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		code := strings.TrimSuffix(filepath.Base(path), ".json")
		langs[normalize(code)] = messages
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.langs = langs
	return nil
}

// For returns the language for code. "pt-BR" falls back to "pt", then to
// the default language.
func (l *Localization) For(code string) *Language {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var def *Language
	if msgs, ok := l.langs[l.fallback]; ok {
		def = &Language{Code: l.fallback, messages: msgs}
	}

	code = normalize(code)
	if msgs, ok := l.langs[code]; ok {
		if code == l.fallback {
			return def
		}
		return &Language{Code: code, messages: msgs, fallback: def}
	}
	if base, _, found := strings.Cut(code, "-"); found {
		if msgs, ok := l.langs[base]; ok && base != l.fallback {
			return &Language{Code: base, messages: msgs, fallback: def}
		}
	}
	if def != nil {
		return def
	}
	return &Language{Code: l.fallback}
}

// Languages returns the loaded language codes, sorted.
func (l *Localization) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	codes := make([]string, 0, len(l.langs))
	for code := range l.langs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalize(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
}
