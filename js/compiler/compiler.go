// Package compiler parses JavaScript sources into programs and module ASTs
// that sobek can compile, with source map support.
package compiler

import (
	"github.com/go-sourcemap/sourcemap"
	"github.com/grafana/sobek"
	"github.com/grafana/sobek/ast"
	"github.com/grafana/sobek/parser"
	"github.com/sirupsen/logrus"

	"github.com/tidaljs/tidal/errext"
)

// A Compiler parses JavaScript source code ahead of execution.
type Compiler struct {
	logger  logrus.FieldLogger
	Options Options
}

// Options are options to the compiler.
type Options struct {
	// SourceMapLoader, when set, is used to retrieve external source maps
	// referenced by //# sourceMappingURL comments.
	SourceMapLoader func(string) ([]byte, error)
}

// New returns a new Compiler.
func New(logger logrus.FieldLogger) *Compiler {
	return &Compiler{logger: logger}
}

// parsingState keeps the state of one parse, so a failed source map load can
// fall back to parsing with source maps disabled.
type parsingState struct {
	couldntLoadSourceMap bool
	srcMap               []byte
	srcMapError          error
	compiler             *Compiler

	loader func(string) ([]byte, error)
}

// Parse parses the provided source as either a classic script or an ES
// module AST, tagged with filename as its diagnostic origin.
func (c *Compiler) Parse(src, filename string, module bool) (*ast.Program, error) {
	ps := &parsingState{compiler: c, loader: c.Options.SourceMapLoader}
	return ps.parseImpl(src, filename, module)
}

// Compile compiles the provided source as a classic script program.
func (c *Compiler) Compile(src, filename string) (*sobek.Program, error) {
	prg, err := c.Parse(src, filename, false)
	if err != nil {
		return nil, CompileError(filename, err)
	}
	pgm, err := sobek.CompileAST(prg, true)
	if err != nil {
		return nil, CompileError(filename, err)
	}
	return pgm, nil
}

// ParseModule parses source as an ES module record under the given name.
// The resolver is invoked by sobek during instantiation for every static
// import request.
func (c *Compiler) ParseModule(
	name, source string, resolver sobek.HostResolveImportedModuleFunc,
) (sobek.ModuleRecord, error) {
	mod, err := sobek.ParseModule(name, source, resolver)
	if err != nil {
		return nil, CompileError(name, err)
	}
	return mod, nil
}

// CompileError converts a parse or compile failure into the structured
// error surfaced to hosts, extracting the source position when the parser
// provides one.
func CompileError(filename string, err error) error {
	jserr := &errext.JSError{
		ErrKind:    errext.CompileError,
		Message:    err.Error(),
		SourceName: filename,
	}
	if list, ok := err.(parser.ErrorList); ok && len(list) > 0 { //nolint:errorlint
		jserr.Message = list[0].Message
		jserr.SourceName = list[0].Position.Filename
		jserr.Line = list[0].Position.Line
		jserr.Column = list[0].Position.Column
	}
	return jserr
}

func (ps *parsingState) parseImpl(src, filename string, module bool) (*ast.Program, error) {
	var opts []parser.Option
	if ps.loader != nil {
		opts = append(opts, parser.WithSourceMapLoader(ps.sourceMapLoader))
	} else {
		opts = append(opts, parser.WithDisableSourceMaps)
	}
	if module {
		opts = append(opts, parser.IsModule)
	}

	prg, err := parser.ParseFile(nil, filename, src, 0, opts...)

	if ps.couldntLoadSourceMap {
		// a missing source map shouldn't abort execution, so retry with
		// source maps disabled
		ps.couldntLoadSourceMap = false
		ps.compiler.logger.WithError(ps.srcMapError).Warnf("Couldn't load source map for %s", filename)
		ps.loader = nil
		return ps.parseImpl(src, filename, module)
	}

	return prg, err
}

// sourceMapLoader wraps the configured loader and validates whatever it
// returns before handing it to the parser.
func (ps *parsingState) sourceMapLoader(path string) ([]byte, error) {
	ps.srcMap, ps.srcMapError = ps.loader(path)
	if ps.srcMapError != nil {
		ps.couldntLoadSourceMap = true
		return nil, ps.srcMapError
	}
	_, ps.srcMapError = sourcemap.Parse(path, ps.srcMap)
	if ps.srcMapError != nil {
		ps.couldntLoadSourceMap = true
		ps.srcMap = nil
		return nil, ps.srcMapError
	}
	return ps.srcMap, nil
}
