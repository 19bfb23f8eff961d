package memtree

import (
	"context"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/render"
)

// initVM builds the goja runtime exposed to fixture blocks:
//
//	fixture.on(xpath, type, fn(handle))
//	fixture.onClick(xpath, fn(handle))
//	fixture.attachHandler(xpath, key, name, fn(event))
//	tree.append(parentXPath, html)   tree.remove(xpath)
//	tree.setAttr(xpath, name, value) tree.setText(xpath, text)
//	tree.setValue(xpath, value)      tree.describe(handle)
//	tree.query(xpath)                tree.rerender()
//	console.log(...)
func (t *Tree) initVM() {
	vm := goja.New()
	t.vm = vm

	fixture := vm.NewObject()
	_ = fixture.Set("on", func(call goja.FunctionCall) goja.Value {
		fn := t.mustFunction(call.Argument(2), "fixture.on")
		t.On(call.Argument(0).String(), call.Argument(1).String(), t.jsListener(fn))
		return goja.Undefined()
	})
	_ = fixture.Set("onClick", func(call goja.FunctionCall) goja.Value {
		fn := t.mustFunction(call.Argument(1), "fixture.onClick")
		t.OnClick(call.Argument(0).String(), t.jsListener(fn))
		return goja.Undefined()
	})
	_ = fixture.Set("attachHandler", func(call goja.FunctionCall) goja.Value {
		fn := t.mustFunction(call.Argument(3), "fixture.attachHandler")
		t.AttachHandler(call.Argument(0).String(), call.Argument(1).String(), call.Argument(2).String(), t.jsHandler(fn))
		return goja.Undefined()
	})
	_ = vm.Set("fixture", fixture)

	tree := vm.NewObject()
	_ = tree.Set("append", func(call goja.FunctionCall) goja.Value {
		if err := t.Append(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = tree.Set("remove", func(call goja.FunctionCall) goja.Value {
		n, err := t.Remove(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(n)
	})
	_ = tree.Set("setAttr", func(call goja.FunctionCall) goja.Value {
		if err := t.SetAttr(call.Argument(0).String(), call.Argument(1).String(), call.Argument(2).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = tree.Set("setText", func(call goja.FunctionCall) goja.Value {
		t.eachMatch(call.Argument(0).String(), func(h render.Handle) error {
			return t.SetText(context.Background(), h, call.Argument(1).String())
		})
		return goja.Undefined()
	})
	_ = tree.Set("setValue", func(call goja.FunctionCall) goja.Value {
		t.eachMatch(call.Argument(0).String(), func(h render.Handle) error {
			return t.SetValue(context.Background(), h, call.Argument(1).String())
		})
		return goja.Undefined()
	})
	_ = tree.Set("query", func(call goja.FunctionCall) goja.Value {
		handles, err := t.Query(context.Background(), call.Argument(0).String(), render.Document)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		out := make([]interface{}, len(handles))
		for i, h := range handles {
			out[i] = string(h)
		}
		return vm.ToValue(out)
	})
	_ = tree.Set("describe", func(call goja.FunctionCall) goja.Value {
		info, err := t.Describe(context.Background(), render.Handle(call.Argument(0).String()))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		obj := vm.NewObject()
		_ = obj.Set("tag", info.Tag)
		_ = obj.Set("id", info.ID)
		_ = obj.Set("text", info.Text)
		_ = obj.Set("value", info.Value)
		_ = obj.Set("checked", info.Checked)
		if info.DataValue != nil {
			_ = obj.Set("dataValue", *info.DataValue)
		} else {
			_ = obj.Set("dataValue", goja.Null())
		}
		return obj
	})
	_ = tree.Set("rerender", func(call goja.FunctionCall) goja.Value {
		t.Rerender()
		return goja.Undefined()
	})
	_ = vm.Set("tree", tree)

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.String()
		}
		t.logger.Debug("[fixture]", zap.String("message", strings.Join(args, " ")))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
}

func (t *Tree) mustFunction(v goja.Value, where string) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(t.vm.NewTypeError(where + ": callback must be a function"))
	}
	return fn
}

func (t *Tree) eachMatch(xpath string, fn func(render.Handle) error) {
	handles, err := t.Query(context.Background(), xpath, render.Document)
	if err != nil {
		panic(t.vm.NewGoError(err))
	}
	for _, h := range handles {
		if err := fn(h); err != nil {
			panic(t.vm.NewGoError(err))
		}
	}
}

func (t *Tree) jsListener(fn goja.Callable) ListenerFunc {
	return func(h render.Handle) error {
		t.vmMu.Lock()
		defer t.vmMu.Unlock()
		_, err := fn(goja.Undefined(), t.vm.ToValue(string(h)))
		return err
	}
}

func (t *Tree) jsHandler(fn goja.Callable) HandlerFunc {
	return func(ev render.Event) error {
		t.vmMu.Lock()
		defer t.vmMu.Unlock()
		_, err := fn(goja.Undefined(), t.envelope(ev))
		return err
	}
}

// envelope builds the synthetic event object a framework handler receives.
func (t *Tree) envelope(ev render.Event) goja.Value {
	vm := t.vm
	target := vm.NewObject()
	_ = target.Set("value", ev.Value)
	_ = target.Set("name", ev.Name)
	_ = target.Set("checked", ev.Checked)
	_ = target.Set("type", ev.Type)

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	env := vm.NewObject()
	_ = env.Set("type", strings.ToLower(string(ev.Kind)))
	_ = env.Set("target", target)
	_ = env.Set("currentTarget", target)
	_ = env.Set("bubbles", true)
	_ = env.Set("preventDefault", noop)
	_ = env.Set("stopPropagation", noop)
	_ = env.Set("persist", noop)
	return env
}
