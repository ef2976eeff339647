package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// CUEParser reads sanesync configuration written in CUE. Several files or
// package directories may be given; they are unified before validation, so
// an overlay can refine a base file but not contradict it.
type CUEParser struct {
	ctx     *cue.Context
	schemas *SchemaRegistry
}

// NewCUEParser returns a parser with the built-in #Config schema.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{ctx: ctx, schemas: newSchemaRegistry(ctx)}
}

// Parse unifies sources, checks the result against #Config and decodes it
// over Default.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Config, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no config sources given")
	}

	var (
		merged cue.Value
		files  []string
		errs   ValidationErrors
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		val, srcFiles, err := cp.load(src)
		if err != nil {
			return nil, err
		}
		files = append(files, srcFiles...)
		if verr := val.Err(); verr != nil {
			errs = append(errs, cueValidationErrors(verr)...)
			continue
		}
		if merged.Exists() {
			merged = merged.Unify(val)
		} else {
			merged = val
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	cfg, err := cp.decode(merged)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = files
	return cfg, nil
}

// ParseInline parses CUE source held in memory.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	cfg, err := cp.decode(cp.ctx.CompileString(content, cue.Filename("inline")))
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = []string{"inline"}
	return cfg, nil
}

// load compiles one file, or builds one package when src is a directory.
// CUE compile errors stay on the returned value.
func (cp *CUEParser) load(src string) (cue.Value, []string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return cue.Value{}, nil, fmt.Errorf("config source %s: %w", src, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(src)
		if err != nil {
			return cue.Value{}, nil, fmt.Errorf("config source %s: %w", src, err)
		}
		return cp.ctx.CompileBytes(data, cue.Filename(src)), []string{src}, nil
	}

	insts := load.Instances([]string{src}, nil)
	if len(insts) == 0 {
		return cue.Value{}, nil, ValidationErrors{{File: src, Message: "no CUE files found"}}
	}
	if insts[0].Err != nil {
		return cue.Value{}, nil, cueValidationErrors(insts[0].Err)
	}
	files := make([]string, 0, len(insts[0].Files))
	for _, f := range insts[0].Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return cp.ctx.BuildInstance(insts[0]), files, nil
}

// decode checks val against #Config and reads it over Default. The value
// goes through JSON and the YAML decoder so durations such as "250ms" are
// read the same way for both file formats.
func (cp *CUEParser) decode(val cue.Value) (*Config, error) {
	if err := val.Err(); err != nil {
		return nil, cueValidationErrors(err)
	}
	if err := cp.schemas.Validate("config", val); err != nil {
		return nil, cueValidationErrors(err)
	}
	data, err := val.MarshalJSON()
	if err != nil {
		return nil, cueValidationErrors(err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// cueValidationErrors flattens a CUE error list, keeping the first position
// of each error.
func cueValidationErrors(err error) ValidationErrors {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return ValidationErrors{{Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(list))
	for _, e := range list {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File, ve.Line, ve.Column = pos[0].Filename(), pos[0].Line(), pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
