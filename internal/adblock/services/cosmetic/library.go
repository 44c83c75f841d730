package cosmetic

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset/parsers"
)

//go:embed scriptlets/*.js
var builtin embed.FS

// maxPlaceholders is the highest {{n}} a template may use.
const maxPlaceholders = 9

// aliases maps the short names used by filter lists to template names.
var aliases = map[string]string{
	"aopr":   "abort-on-property-read",
	"set":    "set-constant",
	"nostif": "no-setTimeout-if",
}

// Library holds scriptlet templates by name. Templates reference their
// arguments as {{1}} ... {{9}}.
type Library struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewLibrary returns a library preloaded with the built-in scriptlets.
func NewLibrary() *Library {
	l := &Library{templates: make(map[string]string)}
	// embedded templates are known good, a failure here is a build defect
	if _, err := l.load(builtin, "scriptlets"); err != nil {
		panic(err)
	}
	return l
}

// LoadDir adds every *.js file in dir as a template named after the file.
// Files override built-ins of the same name. An empty dir is a no-op.
func (l *Library) LoadDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	return l.load(os.DirFS(dir), ".")
}

func (l *Library) load(fsys fs.FS, dir string) (int, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("read scriptlet dir: %w", err)
	}

	loaded := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".js" {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return 0, fmt.Errorf("read scriptlet %s: %w", e.Name(), err)
		}
		loaded[strings.TrimSuffix(e.Name(), ".js")] = string(b)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for name, tmpl := range loaded {
		l.templates[name] = tmpl
	}
	return len(loaded), nil
}

// Has reports whether name (or its alias) resolves to a template.
func (l *Library) Has(name string) bool {
	_, ok := l.lookup(name)
	return ok
}

func (l *Library) lookup(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".js")
	if full, ok := aliases[name]; ok {
		name = full
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	return t, ok
}

// Render fills the template named by a canonical scriptlet call
// ("name, arg1, arg2"). Missing arguments become empty strings.
func (l *Library) Render(call string) (string, bool) {
	args := parsers.SplitScriptletArgs(call)
	if len(args) == 0 {
		return "", false
	}
	tmpl, ok := l.lookup(args[0])
	if !ok {
		return "", false
	}

	pairs := make([]string, 0, 2*maxPlaceholders)
	for i := 1; i <= maxPlaceholders; i++ {
		v := ""
		if i < len(args) {
			v = jsEscape(args[i])
		}
		pairs = append(pairs, "{{"+strconv.Itoa(i)+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl), true
}

// jsEscape makes s safe inside a single- or double-quoted JS string literal.
func jsEscape(s string) string {
	q := strconv.Quote(s)
	q = q[1 : len(q)-1]
	return strings.NewReplacer(`'`, `\'`, "<", `\x3c`).Replace(q)
}
