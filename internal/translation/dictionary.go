// Package translation provides localized texts. A Dictionary is immutable once
// loaded, so a request can hold its own without sharing mutable state.
package translation

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Fallback is returned for keys missing from the dictionary.
const Fallback = "Translation not found"

// LoadError reports a dictionary that cannot be loaded.
type LoadError struct {
	Source  string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load dictionary %s: %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("load dictionary %s: %s", e.Source, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Dictionary maps keys to localized texts.
type Dictionary struct {
	language string
	entries  map[string]string
}

// Load parses dictionary XML. The root element may contain only <entry>
// elements, each carrying exactly one key attribute and plain text.
func Load(data []byte) (*Dictionary, error) {
	return parse(data, "inline", "")
}

func parse(data []byte, source, language string) (*Dictionary, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	d := &Dictionary{language: language, entries: make(map[string]string)}

	depth := 0
	var (
		key      string
		text     strings.Builder
		rootSeen bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &LoadError{Source: source, Message: "malformed XML", Cause: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if rootSeen {
					return nil, &LoadError{Source: source, Message: fmt.Sprintf("second root element <%s>", t.Name.Local)}
				}
				rootSeen = true
			case 2:
				if t.Name.Local != "entry" {
					return nil, &LoadError{Source: source, Message: fmt.Sprintf("unexpected element <%s>", t.Name.Local)}
				}
				if len(t.Attr) != 1 || t.Attr[0].Name.Local != "key" {
					return nil, &LoadError{Source: source, Message: "entry must have exactly one key attribute"}
				}
				key = t.Attr[0].Value
				text.Reset()
			default:
				return nil, &LoadError{Source: source, Message: fmt.Sprintf("unexpected element <%s> inside entry", t.Name.Local)}
			}
		case xml.EndElement:
			if depth == 2 {
				d.entries[key] = text.String()
			}
			depth--
		case xml.CharData:
			switch depth {
			case 2:
				text.Write(t)
			case 0, 1:
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, &LoadError{Source: source, Message: "unexpected text in dictionary root"}
				}
			}
		}
	}
	if !rootSeen {
		return nil, &LoadError{Source: source, Message: "no root element"}
	}
	return d, nil
}

// Translate returns the text for key, or Fallback.
func (d *Dictionary) Translate(key string) string {
	if d == nil {
		return Fallback
	}
	if text, ok := d.entries[key]; ok {
		return text
	}
	return Fallback
}

// Language returns the language the dictionary was loaded for.
func (d *Dictionary) Language() string {
	if d == nil {
		return ""
	}
	return d.language
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Loader reads <dir>/<language>.xml files and keeps the parsed dictionaries.
// Dictionaries are immutable, so a cached one may be handed to concurrent requests.
type Loader struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Dictionary
}

// NewLoader creates a loader for the translation folder dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, logger: logger, cache: make(map[string]*Dictionary)}
}

// Load returns the dictionary of language.
func (l *Loader) Load(language string) (*Dictionary, error) {
	if language == "" {
		language = "en"
	}

	l.mu.RLock()
	d, ok := l.cache[language]
	l.mu.RUnlock()
	if ok {
		return d, nil
	}

	file := filepath.Join(l.dir, language+".xml")
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &LoadError{Source: file, Message: "cannot read translation file", Cause: err}
	}
	d, err = parse(data, file, language)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if cached, ok := l.cache[language]; ok {
		d = cached
	} else {
		l.cache[language] = d
	}
	l.mu.Unlock()

	l.logger.Debug("dictionary loaded", zap.String("language", language), zap.Int("entries", d.Len()))
	return d, nil
}
