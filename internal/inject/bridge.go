package inject

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/render"
)

// HandlerRef names one framework handler on a node: node[Key][Name].
type HandlerRef struct {
	Key  string
	Name string
	Kind render.EventKind
}

// HandlerBridge discovers the handlers a framework installs on a node and
// shapes the synthetic events handed to them. One implementation exists per
// supported framework.
type HandlerBridge interface {
	Name() string
	// Probe lists the handlers to invoke for a value change, in call order.
	// An empty result means the node has no reachable framework handler.
	Probe(ctx context.Context, tree render.Tree, h render.Handle) ([]HandlerRef, error)
}

// NewBridge returns the bridge for a framework name from configuration.
func NewBridge(framework string) (HandlerBridge, error) {
	switch strings.ToLower(framework) {
	case config.FrameworkReact:
		return ReactBridge{}, nil
	case config.FrameworkVue:
		return VueBridge{}, nil
	case config.FrameworkNative, "":
		return NativeBridge{}, nil
	}
	return nil, fmt.Errorf("unsupported framework %q", framework)
}

// reactPropKeyPrefixes are the own-property prefixes React uses to attach
// props to host nodes; the suffix is a per-root random string.
var reactPropKeyPrefixes = []string{"__reactProps$", "__reactEventHandlers$"}

// ReactBridge calls the onChange prop React keeps on the node.
type ReactBridge struct{}

func (ReactBridge) Name() string { return config.FrameworkReact }

func (ReactBridge) Probe(ctx context.Context, tree render.Tree, h render.Handle) ([]HandlerRef, error) {
	keys, err := tree.OwnKeys(ctx, h)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if !hasAnyPrefix(key, reactPropKeyPrefixes) {
			continue
		}
		ok, err := tree.HasHandler(ctx, h, key, "onChange")
		if err != nil {
			return nil, err
		}
		if ok {
			return []HandlerRef{{Key: key, Name: "onChange", Kind: render.EventChange}}, nil
		}
	}
	return nil, nil
}

// VueBridge calls the invokers Vue 3 caches in the node's _vei record.
type VueBridge struct{}

const vueInvokerKey = "_vei"

func (VueBridge) Name() string { return config.FrameworkVue }

func (VueBridge) Probe(ctx context.Context, tree render.Tree, h render.Handle) ([]HandlerRef, error) {
	var refs []HandlerRef
	for _, c := range []struct {
		name string
		kind render.EventKind
	}{
		{"onInput", render.EventInput},
		{"onChange", render.EventChange},
	} {
		ok, err := tree.HasHandler(ctx, h, vueInvokerKey, c.name)
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, HandlerRef{Key: vueInvokerKey, Name: c.name, Kind: c.kind})
		}
	}
	return refs, nil
}

// NativeBridge never finds a handler; every write uses native events only.
type NativeBridge struct{}

func (NativeBridge) Name() string { return config.FrameworkNative }

func (NativeBridge) Probe(context.Context, render.Tree, render.Handle) ([]HandlerRef, error) {
	return nil, nil
}

// eventFor builds the synthetic event for a handler call.
func eventFor(ref HandlerRef, info render.NodeInfo, value string) render.Event {
	return render.Event{
		Kind:    ref.Kind,
		Name:    info.Name,
		Value:   value,
		Checked: info.Checked,
		Type:    info.Type,
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
