package notify

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultLanguage is used when a job names no language or an unknown one.
const DefaultLanguage = "en"

//go:embed locales/*.json
var embeddedLocales embed.FS

// Localizer manages the notification templates.
// It holds a map of languages, each with its own map of template keys and texts.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads the built-in templates and then, when dir is not empty,
// every <lang>.json in dir on top of them.
func NewLocalizer(dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	sub, err := fs.Sub(embeddedLocales, "locales")
	if err != nil {
		return nil, err
	}
	if err := l.load(sub); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := l.load(os.DirFS(dir)); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Localizer) load(fsys fs.FS) error {
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read localization directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		lang := strings.TrimSuffix(file.Name(), ".json")

		data, err := fs.ReadFile(fsys, file.Name())
		if err != nil {
			return fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}
		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		if l.translations[lang] == nil {
			l.translations[lang] = make(map[string]string, len(translations))
		}
		for k, v := range translations {
			l.translations[lang][k] = v
		}
	}
	return nil
}

// GetString returns the template for key in lang, falling back to English
// and then to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value, ok := l.translations[lang][key]; ok {
		return value
	}
	if lang != DefaultLanguage {
		if value, ok := l.translations[DefaultLanguage][key]; ok {
			return value
		}
	}
	return key
}

// Format renders the template for key, replacing every {name} with vars[name].
func (l *Localizer) Format(lang, key string, vars map[string]string) string {
	text := l.GetString(lang, key)
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Languages lists the loaded languages.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	langs := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
