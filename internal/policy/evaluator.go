package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v3"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	wasmFuel      = 10_000_000
	wasmOutputMax = 8192
)

// WASMEvaluator runs a plugin module exporting memory, allocate and
// evaluate(in_ptr, in_len, out_ptr, out_max) -> i32. The module writes a
// NUL-terminated JSON verdict at out_ptr.
type WASMEvaluator struct {
	mu       sync.Mutex
	name     string
	store    *wasmtime.Store
	instance *wasmtime.Instance
	memory   *wasmtime.Memory
	evaluate *wasmtime.Func
	allocate *wasmtime.Func
	fuel     uint64
}

func NewWASMEvaluator(name string, engine *wasmtime.Engine, module *wasmtime.Module) (*WASMEvaluator, error) {
	store := wasmtime.NewStore(engine)
	linker := wasmtime.NewLinker(engine)

	eval := &WASMEvaluator{name: name, store: store}

	if err := eval.defineHostFunctions(linker); err != nil {
		return nil, fmt.Errorf("define host functions: %w", err)
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	eval.instance = instance

	if err := eval.bindExports(); err != nil {
		return nil, err
	}

	return eval, nil
}

func (e *WASMEvaluator) Evaluate(ctx context.Context, req Request) (Response, error) {
	inputJSON, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.refuel(); err != nil {
		return Response{}, err
	}

	outputJSON, err := e.callEvaluate(inputJSON)
	if err != nil {
		return Response{}, err
	}

	return parseResponse(e.name, outputJSON)
}

// refuel tops the store up so every call starts with the full allowance.
func (e *WASMEvaluator) refuel() error {
	consumed, ok := e.store.FuelConsumed()
	if !ok {
		return fmt.Errorf("fuel metering disabled")
	}

	remaining := e.fuel - consumed
	if remaining >= wasmFuel {
		return nil
	}
	if err := e.store.AddFuel(wasmFuel - remaining); err != nil {
		return fmt.Errorf("add fuel: %w", err)
	}
	e.fuel += wasmFuel - remaining
	return nil
}

func (e *WASMEvaluator) Close() error {
	return nil
}

func (e *WASMEvaluator) callEvaluate(input []byte) ([]byte, error) {
	inputPtr, err := e.allocateMemory(len(input))
	if err != nil {
		return nil, fmt.Errorf("allocate input: %w", err)
	}

	if err := e.writeMemory(inputPtr, input); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	outputPtr, err := e.allocateMemory(wasmOutputMax)
	if err != nil {
		return nil, fmt.Errorf("allocate output: %w", err)
	}

	result, err := e.evaluate.Call(e.store, inputPtr, int32(len(input)), outputPtr, int32(wasmOutputMax))
	if err != nil {
		return nil, fmt.Errorf("call evaluate: %w", err)
	}

	if code, _ := result.(int32); code != 0 {
		return nil, fmt.Errorf("evaluation failed with code %v", result)
	}

	return e.readMemory(outputPtr, wasmOutputMax), nil
}

func (e *WASMEvaluator) defineHostFunctions(linker *wasmtime.Linker) error {
	// log(ptr: i32, len: i32)
	logType := wasmtime.NewFuncType(
		[]*wasmtime.ValType{
			wasmtime.NewValType(wasmtime.KindI32),
			wasmtime.NewValType(wasmtime.KindI32),
		},
		[]*wasmtime.ValType{},
	)

	return linker.FuncNew("env", "log", logType, e.hostLog)
}

func (e *WASMEvaluator) bindExports() error {
	memExport := e.instance.GetExport(e.store, "memory")
	if memExport == nil {
		return fmt.Errorf("memory export not found")
	}
	e.memory = memExport.Memory()

	evalExport := e.instance.GetExport(e.store, "evaluate")
	if evalExport == nil {
		return fmt.Errorf("evaluate export not found")
	}
	e.evaluate = evalExport.Func()

	allocExport := e.instance.GetExport(e.store, "allocate")
	if allocExport == nil {
		return fmt.Errorf("allocate export not found")
	}
	e.allocate = allocExport.Func()

	return nil
}

func (e *WASMEvaluator) allocateMemory(size int) (int32, error) {
	result, err := e.allocate.Call(e.store, int32(size))
	if err != nil {
		return 0, err
	}

	ptr, ok := result.(int32)
	if !ok {
		return 0, fmt.Errorf("allocate returned %T", result)
	}
	return ptr, nil
}

func (e *WASMEvaluator) writeMemory(ptr int32, data []byte) error {
	mem := e.memory.UnsafeData(e.store)
	if int(ptr) < 0 || int(ptr)+len(data) > len(mem) {
		return fmt.Errorf("write out of bounds at %d", ptr)
	}
	copy(mem[ptr:], data)
	return nil
}

func (e *WASMEvaluator) readMemory(ptr int32, maxLen int) []byte {
	mem := e.memory.UnsafeData(e.store)

	start := int(ptr)
	end := start
	for end < len(mem) && end-start < maxLen && mem[end] != 0 {
		end++
	}

	out := make([]byte, end-start)
	copy(out, mem[start:end])
	return out
}

func (e *WASMEvaluator) hostLog(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
	msgPtr := args[0].I32()
	msgLen := args[1].I32()

	mem := caller.GetExport("memory").Memory().UnsafeData(caller)
	if int(msgPtr)+int(msgLen) <= len(mem) {
		log.Debug().Str("plugin", e.name).Str("msg", string(mem[msgPtr:msgPtr+msgLen])).Msg("wasm plugin log")
	}

	return []wasmtime.Val{}, nil
}

// parseResponse reads a plugin verdict document. Missing fields keep their
// zero value; an empty document means ignore.
func parseResponse(plugin string, raw []byte) (Response, error) {
	if len(raw) == 0 {
		return Response{Name: plugin}, nil
	}
	if !gjson.ValidBytes(raw) {
		return Response{}, fmt.Errorf("plugin %s returned invalid json", plugin)
	}

	doc := gjson.ParseBytes(raw)
	resp := Response{
		Action:     doc.Get("action").String(),
		Message:    doc.Get("message").String(),
		Name:       doc.Get("name").String(),
		Confidence: int(doc.Get("confidence").Int()),
	}
	if resp.Name == "" {
		resp.Name = plugin
	}
	return resp, nil
}
