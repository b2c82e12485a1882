// Package vocab holds the reference vocabularies (subdivisions, operations,
// crops) used to prompt the extractor and to normalize what it returns.
package vocab

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Entry is one canonical term and the spellings that map to it.
type Entry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// List is an ordered set of canonical terms with a lookup index.
type List struct {
	entries []Entry
	index   map[string]string
}

// Vocabulary is the full set of reference lists.
type Vocabulary struct {
	Subdivisions *List
	Operations   *List
	Crops        *List
}

type file struct {
	Subdivisions []Entry `yaml:"subdivisions"`
	Operations   []Entry `yaml:"operations"`
	Crops        []Entry `yaml:"crops"`
}

// Default returns the vocabulary compiled into the binary.
func Default() *Vocabulary {
	v, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return v
}

// Load reads a vocabulary file. An empty path yields Default.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vocab: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML vocabulary document.
func Parse(data []byte) (*Vocabulary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "vocab: parse yaml")
	}

	v := &Vocabulary{}
	var err error
	if v.Subdivisions, err = newList("subdivisions", f.Subdivisions); err != nil {
		return nil, err
	}
	if v.Operations, err = newList("operations", f.Operations); err != nil {
		return nil, err
	}
	if v.Crops, err = newList("crops", f.Crops); err != nil {
		return nil, err
	}
	return v, nil
}

func newList(section string, entries []Entry) (*List, error) {
	l := &List{index: make(map[string]string)}
	for _, e := range entries {
		name := norm.NFC.String(strings.TrimSpace(e.Name))
		if name == "" {
			return nil, eris.Errorf("vocab: %s: entry with empty name", section)
		}
		for _, spelling := range append([]string{name}, e.Aliases...) {
			k := Key(spelling)
			if k == "" {
				continue
			}
			if prev, ok := l.index[k]; ok && prev != name {
				return nil, eris.Errorf("vocab: %s: %q maps to both %q and %q", section, spelling, prev, name)
			}
			l.index[k] = name
		}
		l.entries = append(l.entries, Entry{Name: name, Aliases: e.Aliases})
	}
	return l, nil
}

// Key is the form used for matching: trimmed, NFC-normalized and lowercased,
// with ё folded to е.
func Key(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "ё", "е")
}

// Normalize maps s to its canonical name. Unknown values come back
// unmodified with ok false.
func (l *List) Normalize(s string) (string, bool) {
	if l != nil {
		if name, ok := l.index[Key(s)]; ok {
			return name, true
		}
	}
	return s, false
}

// Names returns the canonical names in file order.
func (l *List) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, len(l.entries))
	for i, e := range l.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of canonical entries.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Find returns the canonical name of the longest term mentioned as whole
// words anywhere in line.
func (l *List) Find(line string) (string, bool) {
	if l == nil {
		return "", false
	}
	hay := " " + strings.Join(words(Key(line)), " ") + " "

	keys := make([]string, 0, len(l.index))
	for k := range l.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		needle := " " + strings.Join(words(k), " ") + " "
		if strings.Contains(hay, needle) {
			return l.index[k], true
		}
	}
	return "", false
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '/'
	})
}
