package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds named CUE definitions that configuration values are
// checked against. "config" is always registered as #Config.
type SchemaRegistry struct {
	ctx *cue.Context

	mu   sync.RWMutex
	defs map[string]cue.Value
}

// NewSchemaRegistry returns a registry on a fresh CUE context.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

// newSchemaRegistry shares ctx with the parser; values from different
// contexts cannot be unified.
func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{ctx: ctx, defs: map[string]cue.Value{}}
	if err := sr.RegisterSchema("config", "#Config", builtinConfigSchema); err != nil {
		panic(fmt.Sprintf("built-in config schema: %v", err))
	}
	return sr
}

// RegisterSchema compiles src and stores its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, src string) error {
	compiled := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := compiled.Err(); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	def := compiled.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s: %s is not declared", name, definition)
	}

	sr.mu.Lock()
	sr.defs[name] = def
	sr.mu.Unlock()
	return nil
}

// GetSchema returns the definition registered under name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	def, ok := sr.defs[name]
	return def, ok
}

// Validate unifies val with the named definition and requires the result to
// be concrete. Optional fields may stay unset.
func (sr *SchemaRegistry) Validate(name string, val cue.Value) error {
	def, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("unknown schema %s", name)
	}
	return def.Unify(val).Validate(cue.Concrete(true))
}

const builtinConfigSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Config: {
	data_dir?: string & !=""

	store?: {
		path?:              string & !=""
		max_open_conns?:    int & >=0
		max_idle_conns?:    int & >=0
		conn_max_lifetime?: #Duration
	}

	catalog?: {
		type?: "shopify" | "file"
		file?: {
			path?:           string
			page_size?:      int & >0
			watch_debounce?: #Duration
		}
		shopify?: {
			api_version?:         string
			endpoint?:            string
			page_size?:           int & >0 & <=250
			requests_per_second?: number & >0
			burst?:               int & >0
			timeout?:             #Duration
		}
	}

	sync?: {
		write_delay?:      #Duration
		unresolved_pairs?: "drop" | "warn" | "fail"
	}

	telemetry?: {...}

	serve?: {
		schedule?:     string & !=""
		run_on_start?: bool
	}

	secrets?: {
		passphrase_env?: string & =~"^[A-Z_][A-Z0-9_]*$"
	}
}
`
