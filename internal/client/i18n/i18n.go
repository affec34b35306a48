package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Bundle holds flattened message catalogs keyed by language.
type Bundle struct {
	dict      map[string]map[string]string
	fallback  string
	supported []string
	matcher   language.Matcher
}

// Default loads the embedded catalogs with English as fallback.
func Default() (*Bundle, error) {
	return Load("en")
}

// Load reads the embedded catalogs with fallback as the default language.
func Load(fallback string) (*Bundle, error) {
	return LoadFS(localeFS, fallback, "en", "ja")
}

// LoadFS reads <lang>.yaml from the locales directory of fsys for every supported language.
// Nested YAML maps are flattened into dotted keys. Only the fallback catalog is mandatory.
func LoadFS(fsys fs.FS, fallback string, supported ...string) (*Bundle, error) {
	fallback = strings.ToLower(strings.TrimSpace(fallback))
	if fallback == "" {
		return nil, fmt.Errorf("i18n: fallback language is required")
	}

	langs := []string{fallback}
	for _, l := range supported {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && l != fallback {
			langs = append(langs, l)
		}
	}

	b := &Bundle{dict: map[string]map[string]string{}, fallback: fallback}
	tags := make([]language.Tag, 0, len(langs))
	for _, l := range langs {
		raw, err := fs.ReadFile(fsys, path.Join("locales", l+".yaml"))
		if err != nil {
			if l == fallback {
				return nil, fmt.Errorf("i18n: load locale %s: %w", l, err)
			}
			continue
		}
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("i18n: unmarshal %s: %w", l, err)
		}
		flat := map[string]string{}
		flatten("", tree, flat)

		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("i18n: parse language %s: %w", l, err)
		}
		b.dict[l] = flat
		b.supported = append(b.supported, l)
		tags = append(tags, tag)
	}
	// The first tag is what the matcher falls back to.
	b.matcher = language.NewMatcher(tags)
	return b, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Supported returns the loaded languages in sorted order.
func (b *Bundle) Supported() []string {
	out := append([]string(nil), b.supported...)
	sort.Strings(out)
	return out
}

// Fallback returns the configured fallback language.
func (b *Bundle) Fallback() string { return b.fallback }

// T returns the message for key in lang, falling back to the default language and finally key.
func (b *Bundle) T(lang, key string) string {
	if m, ok := b.dict[lang]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := b.dict[b.fallback][key]; ok {
		return v
	}
	return key
}

// Messages returns a copy of the full catalog for lang merged over the fallback catalog.
func (b *Bundle) Messages(lang string) map[string]string {
	out := make(map[string]string, len(b.dict[b.fallback]))
	for k, v := range b.dict[b.fallback] {
		out[k] = v
	}
	if lang != b.fallback {
		for k, v := range b.dict[lang] {
			out[k] = v
		}
	}
	return out
}

// Resolve picks the best supported language for an Accept-Language header value.
func (b *Bundle) Resolve(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return b.fallback
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return b.fallback
	}
	_, idx, conf := b.matcher.Match(tags...)
	if conf == language.No || idx < 0 || idx >= len(b.supported) {
		return b.fallback
	}
	return b.supported[idx]
}

// IsSupported reports whether lang has a loaded catalog.
func (b *Bundle) IsSupported(lang string) bool {
	_, ok := b.dict[lang]
	return ok
}
