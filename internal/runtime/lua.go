package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/semaphore"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
)

// LuaPool bounds the number of concurrently live restricted interpreter
// states. States are cheap and stateless, so one is created per call and
// closed afterwards; a timed-out state is simply closed, never reused.
type LuaPool struct {
	sem *semaphore.Weighted
}

// DefaultLuaPoolSize is used when the configured size is not positive.
const DefaultLuaPoolSize = 4

// NewLuaPool creates a pool admitting up to size concurrent executions.
func NewLuaPool(size int64) *LuaPool {
	if size <= 0 {
		size = DefaultLuaPoolSize
	}
	return &LuaPool{sem: semaphore.NewWeighted(size)}
}

// Exec runs a Lua snippet in a fresh restricted state and returns everything
// it printed. ctx bounds both pool admission and execution.
func (p *LuaPool) Exec(ctx context.Context, code string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("runtime: lua pool: %w", err)
	}
	defer p.sem.Release(1)

	var out bytes.Buffer
	L, err := newRestrictedState(&out)
	if err != nil {
		return "", err
	}
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(code); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("runtime: lua: %w", ctx.Err())
		}
		return "", fmt.Errorf("runtime: lua: %w", err)
	}
	return out.String(), nil
}

// LuaScript hosts one user-supplied script as an observer. Each invocation
// gets a fresh restricted state; the script must define
// on_event(event) -> table|nil.
type LuaScript struct {
	pool   *LuaPool
	source string
}

// NewLuaScript binds script source to a pool.
func NewLuaScript(pool *LuaPool, source string) *LuaScript {
	return &LuaScript{pool: pool, source: source}
}

// Invoke implements observer.Runtime.
func (s *LuaScript) Invoke(ctx context.Context, d observer.Descriptor, ev *event.NoteEvent) (observer.Result, error) {
	if err := s.pool.sem.Acquire(ctx, 1); err != nil {
		return observer.FailedResult("timeout"), nil
	}
	defer s.pool.sem.Release(1)

	var out bytes.Buffer
	L, err := newRestrictedState(&out)
	if err != nil {
		return observer.Result{}, err
	}
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(s.source); err != nil {
		return luaFailure(ctx, err), nil
	}

	fn := L.GetGlobal("on_event")
	if fn.Type() != lua.LTFunction {
		return observer.FailedResult("script defines no on_event function"), nil
	}

	evMap, err := eventValue(ev)
	if err != nil {
		return observer.Result{}, err
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, goToLua(L, evMap)); err != nil {
		return luaFailure(ctx, err), nil
	}
	ret := L.Get(-1)
	L.Pop(1)

	res, err := resultFromExport(luaToGo(ret))
	if err != nil {
		return observer.FailedResult(err.Error()), nil
	}
	return res, nil
}

func luaFailure(ctx context.Context, err error) observer.Result {
	if ctx.Err() != nil {
		return observer.FailedResult("timeout")
	}
	return observer.FailedResult(err.Error())
}

// newRestrictedState builds an interpreter exposing only pure standard
// operations: base, table, string, and math. print is redirected into out;
// every primitive that could reach the file system or load foreign code is
// stripped.
func newRestrictedState(out *bytes.Buffer) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true},
			lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("runtime: open lua lib %s: %w", lib.name, err)
		}
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		out.WriteString(strings.Join(parts, "\t"))
		out.WriteByte('\n')
		return 0
	}))

	return L, nil
}

// goToLua converts a JSON-shaped Go value into a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value back into a JSON-shaped Go value. Tables with
// only positive integer keys become slices, everything else maps.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		arr := make([]any, 0)
		obj := make(map[string]any)
		isArray := true
		val.ForEach(func(k, item lua.LValue) {
			if n, ok := k.(lua.LNumber); ok && isArray && float64(n) == float64(int(n)) && int(n) == len(arr)+1 {
				arr = append(arr, luaToGo(item))
				return
			}
			isArray = false
			obj[k.String()] = luaToGo(item)
		})
		if isArray && len(obj) == 0 && len(arr) > 0 {
			return arr
		}
		for i, item := range arr {
			obj[fmt.Sprintf("%d", i+1)] = item
		}
		return obj
	default:
		return v.String()
	}
}
