package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v3"
	"github.com/rs/zerolog/log"
)

// Loader compiles the plugin files of one backend.
type Loader interface {
	Kind() Kind
	Matches(filename string) bool
	LoadFile(path string) (Evaluator, error)
}

// NewLoader returns the loader for kind.
func NewLoader(kind Kind) (Loader, error) {
	switch kind {
	case KindWASM:
		return NewWASMLoader(), nil
	case KindRego:
		return NewRegoLoader(), nil
	case KindLua:
		return NewLuaLoader(), nil
	default:
		return nil, fmt.Errorf("unknown plugin engine: %q", kind)
	}
}

// LoadFromDir loads every plugin in dir that l understands. Plugins that
// fail to load are logged and skipped.
func LoadFromDir(l Loader, dir string) (map[string]Evaluator, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	evaluators := make(map[string]Evaluator)

	for _, entry := range entries {
		if entry.IsDir() || !l.Matches(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		eval, err := l.LoadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Str("engine", string(l.Kind())).Msg("failed to load plugin")
			continue
		}

		evaluators[policyName(entry.Name())] = eval
	}

	if len(evaluators) == 0 {
		return nil, fmt.Errorf("%w: %s plugins in %s", ErrNoPolicies, l.Kind(), dir)
	}

	return evaluators, nil
}

func hasExt(filename, ext string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ext)
}

func policyName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.ToLower(name)
}

type WASMLoader struct {
	engine *wasmtime.Engine
}

func NewWASMLoader() *WASMLoader {
	config := wasmtime.NewConfig()
	config.SetWasmMultiMemory(true)
	config.SetWasmThreads(false)
	config.SetConsumeFuel(true)

	return &WASMLoader{
		engine: wasmtime.NewEngineWithConfig(config),
	}
}

func (l *WASMLoader) Kind() Kind { return KindWASM }

func (l *WASMLoader) Matches(filename string) bool {
	return hasExt(filename, ".wasm")
}

func (l *WASMLoader) LoadFile(path string) (Evaluator, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	module, err := wasmtime.NewModule(l.engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	return NewWASMEvaluator(policyName(filepath.Base(path)), l.engine, module)
}
