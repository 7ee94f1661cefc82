// Package script runs admin-authored request/response transforms in a sandboxed
// embedded Lua interpreter, bounded by a hard execution timeout.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lowart/gateway/internal/adapter/ai/tokencount"
	"github.com/lowart/gateway/internal/domain"
)

// Engine runs transform scripts over a JSON payload. It registers a single
// builtin, count_tokens(string) -> int, and deliberately offers no I/O library so
// an admin-authored script cannot reach the filesystem or network.
type Engine struct {
	counter *tokencount.Counter
}

// New creates an Engine.
func New() *Engine {
	return &Engine{counter: tokencount.New()}
}

// Run executes script with input bound to the global "input" table, and returns
// whatever the script leaves in the global "output" table. The call is bounded by
// ctx's deadline or, absent one, by a 1s default.
func (e *Engine) Run(ctx domain.Context, scriptSrc string, input json.RawMessage) (json.RawMessage, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(1 * time.Second)
	}

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(runCtx)

	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(pair.fn), NRet: 0, Protect: true}, lua.LString(pair.name)); err != nil {
			return nil, fmt.Errorf("op=script.Run.openlib: %w", err)
		}
	}

	L.SetGlobal("count_tokens", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		L.Push(lua.LNumber(e.counter.Count(text)))
		return 1
	}))

	inputValue, err := decodeToLua(L, input)
	if err != nil {
		return nil, fmt.Errorf("op=script.Run.decode_input: %w", err)
	}
	L.SetGlobal("input", inputValue)
	L.SetGlobal("output", lua.LNil)

	if err := L.DoString(scriptSrc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransformFailed, err)
	}

	out := L.GetGlobal("output")
	result, err := encodeFromLua(out)
	if err != nil {
		return nil, fmt.Errorf("op=script.Run.encode_output: %w", err)
	}
	return result, nil
}

func decodeToLua(L *lua.LState, raw json.RawMessage) (lua.LValue, error) {
	var v interface{}
	if len(raw) == 0 {
		return lua.LNil, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return goToLua(L, v), nil
}

func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case []interface{}:
		tbl := L.NewTable()
		for i, elem := range t {
			tbl.RawSetInt(i+1, goToLua(L, elem))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, elem := range t {
			tbl.RawSetString(k, goToLua(L, elem))
		}
		return tbl
	default:
		return lua.LNil
	}
}

func encodeFromLua(v lua.LValue) (json.RawMessage, error) {
	return json.Marshal(luaToGo(v))
}

func luaToGo(v lua.LValue) interface{} {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		// Arrays have a contiguous 1..N integer key sequence; anything else is an object.
		maxN := t.Len()
		isArray := maxN > 0
		obj := make(map[string]interface{})
		arr := make([]interface{}, 0, maxN)
		t.ForEach(func(key, val lua.LValue) {
			if n, ok := key.(lua.LNumber); ok && int(n) >= 1 && int(n) <= maxN {
				return
			}
			isArray = false
			obj[key.String()] = luaToGo(val)
		})
		if isArray {
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(t.RawGetInt(i)))
			}
			return arr
		}
		for i := 1; i <= maxN; i++ {
			obj[fmt.Sprintf("%d", i)] = luaToGo(t.RawGetInt(i))
		}
		return obj
	default:
		return nil
	}
}

var _ domain.ScriptTransform = (*Engine)(nil)
