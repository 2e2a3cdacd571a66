package modules

import (
	"net/url"

	"github.com/grafana/sobek"
	"github.com/sirupsen/logrus"

	"github.com/tidaljs/tidal/errext"
	"github.com/tidaljs/tidal/js/compiler"
	"github.com/tidaljs/tidal/loader"
)

// SourceLocator loads the raw bytes behind a canonical module URL.
// originalSpecifier is only used for diagnostics.
type SourceLocator func(specifier *url.URL, originalSpecifier string) ([]byte, error)

type moduleCacheElement struct {
	mod sobek.ModuleRecord
	err error
}

// Resolver resolves specifiers to canonical URLs and keeps the module map:
// at most one compiled module record per canonical URL. Re-imports of the
// same file through different relative spellings land on the same record,
// which is what makes circular imports terminate and top-level module code
// run exactly once.
type Resolver struct {
	cache    map[string]moduleCacheElement
	compiler *compiler.Compiler
	locator  SourceLocator
	logger   logrus.FieldLogger

	// reverse maps a compiled record back to its canonical URL so imports
	// can be resolved relative to their referrer.
	reverse map[sobek.ModuleRecord]*url.URL

	// root is the resolution base used when there is no referrer.
	root *url.URL
}

// NewResolver returns a resolver rooted at root.
func NewResolver(
	root *url.URL, c *compiler.Compiler, locator SourceLocator, logger logrus.FieldLogger,
) *Resolver {
	return &Resolver{
		cache:    make(map[string]moduleCacheElement),
		reverse:  make(map[sobek.ModuleRecord]*url.URL),
		compiler: c,
		locator:  locator,
		logger:   logger,
		root:     root,
	}
}

// ResolveSpecifier resolves specifier against the given base directory URL
// into a canonical URL, without fetching anything.
func (r *Resolver) ResolveSpecifier(base *url.URL, specifier string) (*url.URL, error) {
	u, err := loader.Resolve(base, specifier)
	if err != nil {
		return nil, &errext.JSError{
			ErrKind:    errext.ResolutionError,
			Message:    err.Error(),
			SourceName: specifier,
		}
	}
	return u, nil
}

// URLForModule returns the canonical URL a compiled record was registered
// under, or nil for records the resolver doesn't know (e.g. inline sources
// resolved by name only).
func (r *Resolver) URLForModule(mod sobek.ModuleRecord) *url.URL {
	return r.reverse[mod]
}

// HostResolve is the resolve callback handed to sobek for instantiation and
// dynamic import: for every import request it computes the canonical URL
// relative to the referrer and hands back the already-compiled record from
// the module map. Because the whole graph is inserted before linking
// starts, cycles resolve here without recursing.
func (r *Resolver) HostResolve(
	referencingScriptOrModule interface{}, specifier string,
) (sobek.ModuleRecord, error) {
	base := r.root
	if mod, ok := referencingScriptOrModule.(sobek.ModuleRecord); ok {
		// opaque identifiers (inline sources) have no directory; their
		// imports resolve against the root
		if u := r.reverse[mod]; u != nil && u.Opaque == "" {
			base = loader.Dir(u)
		}
	}

	u, err := r.ResolveSpecifier(base, specifier)
	if err != nil {
		return nil, err
	}
	return r.resolve(u, specifier)
}

// resolve returns the record for the canonical URL, compiling and inserting
// it on first sight. The cache also remembers failures so a broken module is
// reported consistently instead of refetched.
func (r *Resolver) resolve(u *url.URL, originalSpecifier string) (sobek.ModuleRecord, error) {
	key := u.String()
	if cached, ok := r.cache[key]; ok {
		return cached.mod, cached.err
	}

	data, err := r.locator(u, originalSpecifier)
	if err != nil {
		err = &errext.JSError{
			ErrKind:    errext.ResolutionError,
			Message:    err.Error(),
			SourceName: originalSpecifier,
		}
		r.cache[key] = moduleCacheElement{err: err}
		return nil, err
	}

	mod, err := r.compileModule(key, string(data))
	if err != nil {
		r.cache[key] = moduleCacheElement{err: err}
		return nil, err
	}

	r.cache[key] = moduleCacheElement{mod: mod}
	r.reverse[mod] = u
	return mod, nil
}

// CompileInline compiles source under the given identifier without touching
// any filesystem. It is used for the bootstrap module, which has no
// addressable location. The record still lands in the module map under its
// identifier.
func (r *Resolver) CompileInline(identifier *url.URL, source string) (sobek.ModuleRecord, error) {
	key := identifier.String()
	if cached, ok := r.cache[key]; ok {
		return cached.mod, cached.err
	}
	mod, err := r.compileModule(key, source)
	if err != nil {
		r.cache[key] = moduleCacheElement{err: err}
		return nil, err
	}
	r.cache[key] = moduleCacheElement{mod: mod}
	r.reverse[mod] = identifier
	return mod, nil
}

func (r *Resolver) compileModule(name, source string) (sobek.ModuleRecord, error) {
	r.logger.WithField("name", name).Debug("Compiling module...")
	return r.compiler.ParseModule(name, source, r.HostResolve)
}

// FetchModuleTree compiles entry and every module in the transitive closure
// of its static imports, inserting each record into the module map before
// any sibling import referencing it resolves. The walk is an explicit
// worklist with a visited set, so deep or wide graphs don't grow the native
// stack, and map membership breaks import cycles.
func (r *Resolver) FetchModuleTree(entry sobek.ModuleRecord) error {
	visited := map[sobek.ModuleRecord]struct{}{entry: {}}
	worklist := []sobek.ModuleRecord{entry}

	for len(worklist) > 0 {
		mod := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		cyclic, ok := mod.(sobek.CyclicModuleRecord)
		if !ok {
			continue
		}
		for _, specifier := range cyclic.RequestedModules() {
			dep, err := r.HostResolve(mod, specifier)
			if err != nil {
				return err
			}
			if _, seen := visited[dep]; !seen {
				visited[dep] = struct{}{}
				worklist = append(worklist, dep)
			}
		}
	}
	return nil
}
