package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
)

// LuaEntryPoint is the global function a Lua plugin defines:
//
//	function check(check_type, params, context) return {action = "block"} end
//
// Returning nil means nothing to report. A plain string is taken as the
// action.
const LuaEntryPoint = "check"

type LuaLoader struct{}

func NewLuaLoader() *LuaLoader {
	return &LuaLoader{}
}

func (l *LuaLoader) Kind() Kind { return KindLua }

func (l *LuaLoader) Matches(filename string) bool {
	return hasExt(filename, ".lua")
}

func (l *LuaLoader) LoadFile(path string) (Evaluator, error) {
	L := newSandbox()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("run plugin: %w", err)
	}
	return newLuaEvaluator(policyName(filepath.Base(path)), L)
}

// NewLuaEvaluator compiles a plugin from source.
func NewLuaEvaluator(name, src string) (*LuaEvaluator, error) {
	L := newSandbox()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("run plugin: %w", err)
	}
	return newLuaEvaluator(name, L)
}

// newSandbox opens only the libraries a check needs: no io, os, debug or
// package.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func newLuaEvaluator(name string, L *lua.LState) (*LuaEvaluator, error) {
	fn, ok := L.GetGlobal(LuaEntryPoint).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("plugin %s does not define %s()", name, LuaEntryPoint)
	}
	return &LuaEvaluator{name: name, L: L, fn: fn}, nil
}

// LuaEvaluator serialises calls into a single Lua state.
type LuaEvaluator struct {
	mu   sync.Mutex
	name string
	L    *lua.LState
	fn   *lua.LFunction
}

func (e *LuaEvaluator) Evaluate(ctx context.Context, req Request) (Response, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	doc := gjson.ParseBytes(raw)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.L == nil {
		return Response{}, fmt.Errorf("plugin %s is closed", e.name)
	}

	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	params := toLua(e.L, doc.Get("params"))
	reqctx := toLua(e.L, doc.Get("context"))

	err = e.L.CallByParam(lua.P{Fn: e.fn, NRet: 1, Protect: true}, lua.LString(req.CheckType), params, reqctx)
	if err != nil {
		return Response{}, fmt.Errorf("call %s: %w", LuaEntryPoint, err)
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)

	return e.response(ret), nil
}

func (e *LuaEvaluator) response(ret lua.LValue) Response {
	resp := Response{Name: e.name}

	switch v := ret.(type) {
	case lua.LString:
		resp.Action = string(v)
	case *lua.LTable:
		resp.Action = lua.LVAsString(v.RawGetString("action"))
		resp.Message = lua.LVAsString(v.RawGetString("message"))
		if name := lua.LVAsString(v.RawGetString("name")); name != "" {
			resp.Name = name
		}
		resp.Confidence = int(lua.LVAsNumber(v.RawGetString("confidence")))
	}
	return resp
}

func (e *LuaEvaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
	return nil
}

// toLua converts a parsed JSON value into Lua values.
func toLua(L *lua.LState, v gjson.Result) lua.LValue {
	switch {
	case v.IsObject():
		t := L.NewTable()
		v.ForEach(func(key, value gjson.Result) bool {
			t.RawSetString(key.String(), toLua(L, value))
			return true
		})
		return t
	case v.IsArray():
		t := L.NewTable()
		for _, item := range v.Array() {
			t.Append(toLua(L, item))
		}
		return t
	}

	switch v.Type {
	case gjson.String:
		return lua.LString(v.Str)
	case gjson.Number:
		return lua.LNumber(v.Num)
	case gjson.True:
		return lua.LTrue
	case gjson.False:
		return lua.LFalse
	default:
		return lua.LNil
	}
}
