// Package module implements component H: it turns a module name or file
// path into a compiled, executed unit and exposes whatever that unit
// publicly bound. This is the "store from which the IR builder may obtain
// bound values" the rest of the core treats as an opaque boundary (spec.md
// §1, §4.4) — everything downstream of the lexer/parser only ever sees the
// globals map and *value.Value results this package hands back.
package module

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/mod/module"
	"golang.org/x/sync/singleflight"

	"sentra/internal/bytecode"
	"sentra/internal/ir"
	"sentra/internal/lexer"
	"sentra/internal/parser"
	"sentra/internal/ssa"
	"sentra/internal/value"
	"sentra/internal/vm"
)

// Module is one compiled-and-run source unit.
type Module struct {
	ID      uuid.UUID
	Name    string
	Path    string
	Result  value.Value   // whatever the module body's tail expression evaluated to
	Exports *value.Record // public bindings (nil if the module declared no `pub` binding)
}

// Loader resolves module names against a search path, compiles each one at
// most once per path (collapsing concurrent requests for the same path into
// a single compile-and-run), and caches the result for the lifetime of the
// process — matching the "process-wide, append-only" discipline the
// interning tables in the value package already follow for symbols.
type Loader struct {
	searchPath []string
	globals    map[string]interface{}

	mu    sync.RWMutex
	cache map[string]*Module

	sf singleflight.Group
}

// NewLoader builds a Loader with the given search path (as from repeated
// `-L DIR` / `--module-path` flags) prepended to ".". globals seeds every
// compiled unit's IR builder with the native prelude — at minimum the `cons`
// primitive the parser's list-literal desugaring depends on.
func NewLoader(searchPath []string, globals map[string]interface{}) *Loader {
	l := &Loader{
		globals: globals,
		cache:   make(map[string]*Module),
	}
	l.searchPath = append(append([]string{}, searchPath...), ".")
	return l
}

// Globals exposes the loader's native-prelude map so a caller driving its
// own ad hoc compiles (the REPL, evaluating one line at a time instead of a
// whole module) can resolve the same names a file loaded through this
// Loader would see.
func (l *Loader) Globals() map[string]interface{} { return l.globals }

// DefaultGlobals returns the minimal native prelude every module needs: the
// `cons` pair constructor the parser desugars list literals into, plus
// `raise` and `exit`. Like the original's builtins.c, both are ordinary
// one-argument native procedures rather than syntax; calling either one
// through an ordinary APPLY returns a value that OpIsExceptional (emitted
// after every APPLY, spec.md §4.5) routes into propagation exactly like any
// other failing native call, so `try`/`catch` needs no special-casing of
// either site. A richer stdlib is an explicit Non-goal of the language
// core.
func DefaultGlobals() map[string]interface{} {
	cons := value.NewNativeFunction("cons", 2, func(args []value.Value) (value.Value, *value.Exception) {
		return value.NewPair(args[0], args[1]), nil
	})
	raise := value.NewNativeFunction("raise", 1, func(args []value.Value) (value.Value, *value.Exception) {
		return nil, value.NewException(args[0])
	})
	exit := value.NewNativeFunction("exit", 1, func(args []value.Value) (value.Value, *value.Exception) {
		n, ok := args[0].(*value.Number)
		if !ok {
			return nil, value.NewRuntimeError(value.InvalidArgument, "exit expects a number")
		}
		return value.NewExit(int(n.Val)), nil
	})
	return map[string]interface{}{
		"cons":  value.Value(cons),
		"raise": value.Value(raise),
		"exit":  value.Value(exit),
	}
}

// AddSearchPath appends dir to the search path. The path is validated the
// way a Go-style module resolver validates a path segment before trusting
// it; an invalid segment is kept rather than rejected; a local module system
// has every reason to be permissive about filesystem paths that simply
// aren't well-formed Go import paths, but the check still runs so a
// suspicious path (one containing the reserved " ", "@", or control-rune
// segments module.CheckFilePath rejects) surfaces here rather than failing
// obscurely later inside os.Open.
func (l *Loader) AddSearchPath(dir string) error {
	clean := filepath.Clean(dir)
	l.mu.Lock()
	l.searchPath = append(l.searchPath, clean)
	l.mu.Unlock()
	if err := module.CheckFilePath(clean); err != nil {
		return errors.Wrapf(err, "module search path %q", dir)
	}
	return nil
}

// Load resolves name to a file, compiles and runs it (or returns the cached
// result from a previous call with the same resolved path), and returns the
// resulting Module.
func (l *Loader) Load(name string) (*Module, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving module %q", name)
	}

	l.mu.RLock()
	if m, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return m, nil
	}
	l.mu.RUnlock()

	v, err, _ := l.sf.Do(path, func() (interface{}, error) {
		m, err := l.compileAndRun(name, path)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[path] = m
		l.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

// resolve implements spec.md §6's search order: `name` is tried verbatim if
// it already names a file, then `name.eth`, `name/__main__.eth`, and
// `name.so` are tried across the search path in order.
func (l *Loader) resolve(name string) (string, error) {
	if fileExists(name) {
		return name, nil
	}
	l.mu.RLock()
	dirs := append([]string(nil), l.searchPath...)
	l.mu.RUnlock()

	candidates := func(dir string) []string {
		return []string{
			filepath.Join(dir, name+".eth"),
			filepath.Join(dir, name, "__main__.eth"),
			filepath.Join(dir, name+".so"),
		}
	}
	for _, dir := range dirs {
		for _, c := range candidates(dir) {
			if fileExists(c) {
				return c, nil
			}
		}
	}
	return "", errors.Errorf("module not found in search path: %s", name)
}

// fileExists reports whether path names an existing regular file (a
// directory, e.g. a bare search-path entry, does not count).
func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func (l *Loader) compileAndRun(name, path string) (*Module, error) {
	if strings.HasSuffix(path, ".so") {
		return nil, errors.Errorf("native (.so) modules are not supported by this runtime: %s", path)
	}

	src, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading module %s", path)
	}

	tokens := lexer.NewScanner(string(src)).ScanTokens()
	root, pubNames, perrs := parser.ParseModule(tokens, path)
	if len(perrs) > 0 {
		return nil, errors.Wrapf(perrs[0], "parsing module %s", path)
	}

	iu, ierrs := ir.Build(root, l.globals)
	if len(ierrs) > 0 {
		return nil, errors.Wrapf(ierrs[0], "building IR for module %s", path)
	}

	if err := l.resolveEvmac(iu); err != nil {
		return nil, errors.Wrapf(err, "evaluating compile-time expression in module %s", path)
	}

	su, serrs := ssa.Build(iu)
	if len(serrs) > 0 {
		return nil, errors.Wrapf(serrs[0], "building SSA for module %s", path)
	}

	proto := bytecode.Compile(su, name)
	m := vm.New()
	result := m.Run(proto, nil, nil)
	if exc, ok := result.(*value.Exception); ok {
		return nil, errors.Wrapf(exc, "running module %s", path)
	}

	mod := &Module{ID: uuid.New(), Name: name, Path: path, Result: result}
	if len(pubNames) > 0 {
		if rec, ok := result.(*value.Record); ok {
			mod.Exports = rec
		}
	}
	return mod, nil
}

// resolveEvmac walks iu looking for the zero-arity thunks lowerEvmac
// produced (recorded in each Unit's Specializations so this package never
// has to guess which KFn nodes are ordinary closures), runs each one to
// completion, and replaces its node in place with the constant result —
// the substitution spec.md §4.4 describes as the IR builder's job but that
// this package performs instead, since it is the one component that owns an
// interpreter capable of actually running the nested unit.
func (l *Loader) resolveEvmac(u *ir.Unit) error {
	specs := make(map[*ir.Unit]bool, len(u.Specializations))
	for _, s := range u.Specializations {
		specs[s] = true
	}
	var walkErr error
	var walk func(n *ir.Node)
	walk = func(n *ir.Node) {
		if n == nil || walkErr != nil {
			return
		}
		if n.Kind == ir.KFn {
			if n.FnUnit == nil {
				return
			}
			if err := l.resolveEvmac(n.FnUnit); err != nil {
				walkErr = err
				return
			}
			if specs[n.FnUnit] {
				val, err := l.runUnit(n.FnUnit)
				if err != nil {
					walkErr = err
					return
				}
				n.Kind = ir.KConst
				n.Const = val
				n.FnUnit = nil
				n.Captures = nil
			}
			return
		}
		walk(n.Fn)
		for _, a := range n.Args {
			walk(a)
		}
		walk(n.Left)
		walk(n.Then)
		walk(n.Else)
		walk(n.Scrut)
		for _, s := range n.Scruts {
			walk(s)
		}
		walk(n.MatchThen)
		walk(n.MatchElse)
		for _, r := range n.Rows {
			walk(r.Guard)
			walk(r.Body)
		}
		walk(n.TryBody)
		walk(n.TryCatch)
	}
	walk(u.Body)
	return walkErr
}

// runUnit compiles a self-contained Unit (no captures, no parameters — the
// shape lowerEvmac always produces) straight through SSA/bytecode/VM and
// returns its result as a value.Value suitable for reinsertion as an IR
// constant; constToValue's `value.Value` passthrough case is what lets this
// ride unchanged through every later stage.
func (l *Loader) runUnit(u *ir.Unit) (value.Value, error) {
	su, serrs := ssa.Build(u)
	if len(serrs) > 0 {
		return nil, serrs[0]
	}
	proto := bytecode.Compile(su, "<evmac>")
	m := vm.New()
	result := m.Run(proto, nil, nil)
	if exc, ok := result.(*value.Exception); ok {
		return nil, exc
	}
	return result, nil
}
