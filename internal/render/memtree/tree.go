// Package memtree implements render.Tree over an in-memory HTML document.
//
// Nodes are parsed with golang.org/x/net/html and queried with htmlquery, so
// the XPath emitted by the locator runs unchanged against it. Framework
// behaviour (handlers on node objects, dropdowns that render on click, lists
// that re-render) is supplied either from Go through On and AttachHandler or
// from JavaScript fixture blocks embedded in the document and run by goja.
package memtree

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/formpilot/internal/render"
)

// FixtureScriptType marks script blocks that hold fixture behaviour.
const FixtureScriptType = "text/x-formpilot-fixture"

// HandlerFunc plays the role of a framework-installed handler such as React's
// onChange.
type HandlerFunc func(ev render.Event) error

// ListenerFunc receives the handle of the node the listener was registered on.
type ListenerFunc func(h render.Handle) error

type handlerRule struct {
	xpath string
	key   string
	name  string
	fn    HandlerFunc
}

type listenerRule struct {
	xpath string
	event string
	fn    ListenerFunc
}

type nodeState struct {
	value   *string
	checked *bool
	events  []string
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for fixture console output and diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tree is an in-memory render.Tree.
type Tree struct {
	mu      sync.Mutex
	doc     *html.Node
	gen     int
	seq     int
	ids     map[*html.Node]render.Handle
	nodes   map[render.Handle]*html.Node
	state   map[*html.Node]*nodeState
	focused *html.Node

	handlers  []handlerRule
	listeners []listenerRule

	vmMu   sync.Mutex
	vm     *goja.Runtime
	logger *zap.Logger
}

var _ render.Tree = (*Tree)(nil)

// Parse reads an HTML document and runs any fixture blocks it contains.
func Parse(r io.Reader, opts ...Option) (*Tree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("memtree: failed to parse document: %w", err)
	}
	t := &Tree{
		doc:    doc,
		gen:    1,
		ids:    make(map[*html.Node]render.Handle),
		nodes:  make(map[render.Handle]*html.Node),
		state:  make(map[*html.Node]*nodeState),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("memtree")

	scripts, err := htmlquery.QueryAll(doc, fmt.Sprintf("//script[@type='%s']", FixtureScriptType))
	if err != nil {
		return nil, fmt.Errorf("memtree: failed to find fixture scripts: %w", err)
	}
	var sources []string
	for _, s := range scripts {
		sources = append(sources, htmlquery.InnerText(s))
		if s.Parent != nil {
			s.Parent.RemoveChild(s)
		}
	}
	if len(sources) > 0 {
		t.initVM()
		for i, src := range sources {
			if _, err := t.vm.RunString(src); err != nil {
				return nil, fmt.Errorf("memtree: fixture script %d failed: %w", i, err)
			}
		}
	}
	return t, nil
}

// ParseString is Parse over a string.
func ParseString(doc string, opts ...Option) (*Tree, error) {
	return Parse(strings.NewReader(doc), opts...)
}

// Load parses the document stored at path.
func Load(path string, opts ...Option) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memtree: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, opts...)
}

// -- render.Tree --

func (t *Tree) Query(ctx context.Context, expr string, scope render.Handle) ([]render.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	top := t.doc
	if !scope.IsZero() {
		n, err := t.lookup(scope)
		if err != nil {
			return nil, err
		}
		top = n
	}
	found, err := queryAll(top, expr)
	if err != nil {
		return nil, fmt.Errorf("memtree: invalid xpath %q: %w", expr, err)
	}
	handles := make([]render.Handle, 0, len(found))
	for _, n := range found {
		if n.Type != html.ElementNode {
			continue
		}
		handles = append(handles, t.handleFor(n))
	}
	return handles, nil
}

// queryAll runs expr, turning evaluator panics (xpath function argument
// checks) into errors.
func queryAll(top *html.Node, expr string) (found []*html.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			found, err = nil, fmt.Errorf("evaluation failed: %v", r)
		}
	}()
	return htmlquery.QueryAll(top, expr)
}

func (t *Tree) Describe(ctx context.Context, h render.Handle) (render.NodeInfo, error) {
	if err := ctx.Err(); err != nil {
		return render.NodeInfo{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.lookup(h)
	if err != nil {
		return render.NodeInfo{}, err
	}
	return t.describe(n), nil
}

func (t *Tree) Focus(ctx context.Context, h render.Handle) error {
	return t.fire(ctx, h, "focus", false, func(n *html.Node) {
		t.focused = n
	})
}

func (t *Tree) Blur(ctx context.Context, h render.Handle) error {
	return t.fire(ctx, h, "blur", false, func(n *html.Node) {
		if t.focused == n {
			t.focused = nil
		}
	})
}

func (t *Tree) SetValue(ctx context.Context, h render.Handle, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.lookup(h)
	if err != nil {
		return err
	}
	v := value
	t.stateOf(n).value = &v
	return nil
}

func (t *Tree) SetText(ctx context.Context, h render.Handle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.lookup(h)
	if err != nil {
		return err
	}
	replaceText(n, text)
	return nil
}

func (t *Tree) Dispatch(ctx context.Context, h render.Handle, eventType string) error {
	return t.fire(ctx, h, eventType, true, nil)
}

func (t *Tree) Click(ctx context.Context, h render.Handle) error {
	var toggled bool
	err := t.fire(ctx, h, "click", true, func(n *html.Node) {
		info := t.describe(n)
		if info.Tag != "input" || !info.IsCheckable() {
			return
		}
		next := !info.Checked
		if strings.EqualFold(info.Type, "radio") {
			next = true
		}
		t.stateOf(n).checked = &next
		toggled = true
	})
	if err != nil || !toggled {
		return err
	}
	if err := t.fire(ctx, h, "input", true, nil); err != nil {
		return err
	}
	return t.fire(ctx, h, "change", true, nil)
}

func (t *Tree) OwnKeys(ctx context.Context, h render.Handle) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, rule := range t.handlers {
		if seen[rule.key] || !t.matches(n, rule.xpath) {
			continue
		}
		seen[rule.key] = true
		keys = append(keys, rule.key)
	}
	return keys, nil
}

func (t *Tree) HasHandler(ctx context.Context, h render.Handle, key, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.lookup(h)
	if err != nil {
		return false, err
	}
	_, ok := t.handlerFor(n, key, name)
	return ok, nil
}

func (t *Tree) InvokeHandler(ctx context.Context, h render.Handle, key, name string, ev render.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	n, err := t.lookup(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	fn, ok := t.handlerFor(n, key, name)
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("memtree: node %s has no handler %s.%s", h, key, name)
	}
	st := t.stateOf(n)
	st.events = append(st.events, "handler:"+name)
	t.mu.Unlock()

	if err := fn(ev); err != nil {
		return fmt.Errorf("memtree: handler %s.%s failed: %w", key, name, err)
	}
	return nil
}

// -- Fixture API --

// On registers a listener for eventType on every node matching xpath, now or
// in the future. Click, input and change bubble to ancestors.
func (t *Tree) On(xpath, eventType string, fn ListenerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listenerRule{xpath: xpath, event: eventType, fn: fn})
}

// OnClick is On(xpath, "click", fn).
func (t *Tree) OnClick(xpath string, fn ListenerFunc) {
	t.On(xpath, "click", fn)
}

// AttachHandler installs node[key][name] on every node matching xpath.
func (t *Tree) AttachHandler(xpath, key, name string, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handlerRule{xpath: xpath, key: key, name: name, fn: fn})
}

// Append parses fragment and appends it to the first node matching parentXPath.
func (t *Tree) Append(parentXPath, fragment string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, err := htmlquery.Query(t.doc, parentXPath)
	if err != nil {
		return fmt.Errorf("memtree: invalid xpath %q: %w", parentXPath, err)
	}
	if parent == nil {
		return fmt.Errorf("memtree: no node matches %q", parentXPath)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return fmt.Errorf("memtree: failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

// Remove detaches every node matching xpath and returns how many were removed.
func (t *Tree) Remove(xpath string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	found, err := htmlquery.QueryAll(t.doc, xpath)
	if err != nil {
		return 0, fmt.Errorf("memtree: invalid xpath %q: %w", xpath, err)
	}
	removed := 0
	for _, n := range found {
		if n.Parent == nil || !t.connected(n) {
			continue
		}
		n.Parent.RemoveChild(n)
		removed++
	}
	return removed, nil
}

// SetAttr sets an attribute on every node matching xpath.
func (t *Tree) SetAttr(xpath, name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	found, err := htmlquery.QueryAll(t.doc, xpath)
	if err != nil {
		return fmt.Errorf("memtree: invalid xpath %q: %w", xpath, err)
	}
	for _, n := range found {
		setAttr(n, name, value)
	}
	return nil
}

// Rerender replaces every node with a fresh copy, carrying over values and
// checked state. All previously issued handles become stale.
func (t *Tree) Rerender() {
	t.mu.Lock()
	defer t.mu.Unlock()

	mapping := make(map[*html.Node]*html.Node)
	t.doc = cloneTree(t.doc, mapping)

	state := make(map[*html.Node]*nodeState, len(t.state))
	for old, st := range t.state {
		if n, ok := mapping[old]; ok {
			state[n] = &nodeState{value: st.value, checked: st.checked}
		}
	}
	t.state = state
	t.focused = mapping[t.focused]
	t.gen++
	t.ids = make(map[*html.Node]render.Handle)
	t.nodes = make(map[render.Handle]*html.Node)
}

// Events returns the event log of a node: focus, blur, input, change, click
// and handler:<name> entries in the order they happened.
func (t *Tree) Events(h render.Handle) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.stateOf(n).events...), nil
}

// Focused returns the handle of the focused node, if any.
func (t *Tree) Focused() (render.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.focused == nil || !t.connected(t.focused) {
		return "", false
	}
	return t.handleFor(t.focused), true
}

// WriteHTML serializes the document with current values and checked state
// reflected in attributes.
func (t *Tree) WriteHTML(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for n, st := range t.state {
		if st.value != nil {
			if n.Data == "textarea" {
				replaceText(n, *st.value)
			} else {
				setAttr(n, "value", *st.value)
			}
		}
		if st.checked != nil {
			if *st.checked {
				setAttr(n, "checked", "checked")
			} else {
				removeAttr(n, "checked")
			}
		}
	}
	return html.Render(w, t.doc)
}

// -- internals --

type pendingListener struct {
	fn ListenerFunc
	h  render.Handle
}

// fire records eventType on the node, applies mutate under the lock and then
// runs matching listeners with the lock released so they may mutate the tree.
func (t *Tree) fire(ctx context.Context, h render.Handle, eventType string, bubbles bool, mutate func(*html.Node)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	n, err := t.lookup(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if mutate != nil {
		mutate(n)
	}
	st := t.stateOf(n)
	st.events = append(st.events, eventType)

	var pending []pendingListener
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		for _, rule := range t.listeners {
			if rule.event == eventType && t.matches(cur, rule.xpath) {
				pending = append(pending, pendingListener{fn: rule.fn, h: t.handleFor(cur)})
			}
		}
		if !bubbles {
			break
		}
	}
	t.mu.Unlock()

	for _, p := range pending {
		if err := p.fn(p.h); err != nil {
			t.logger.Warn("Fixture listener failed.", zap.String("event", eventType), zap.Error(err))
		}
	}
	return nil
}

func (t *Tree) lookup(h render.Handle) (*html.Node, error) {
	n, ok := t.nodes[h]
	if !ok || !t.connected(n) {
		return nil, fmt.Errorf("%w: %s", render.ErrStale, h)
	}
	return n, nil
}

func (t *Tree) handleFor(n *html.Node) render.Handle {
	if h, ok := t.ids[n]; ok {
		return h
	}
	t.seq++
	h := render.Handle(fmt.Sprintf("m%d:%d", t.gen, t.seq))
	t.ids[n] = h
	t.nodes[h] = n
	return h
}

func (t *Tree) stateOf(n *html.Node) *nodeState {
	st, ok := t.state[n]
	if !ok {
		st = &nodeState{}
		t.state[n] = st
	}
	return st
}

func (t *Tree) connected(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == t.doc {
			return true
		}
	}
	return false
}

func (t *Tree) matches(n *html.Node, xpath string) bool {
	found, err := htmlquery.QueryAll(t.doc, xpath)
	if err != nil {
		t.logger.Debug("Ignoring fixture rule with invalid xpath.", zap.String("xpath", xpath), zap.Error(err))
		return false
	}
	for _, f := range found {
		if f == n {
			return true
		}
	}
	return false
}

func (t *Tree) handlerFor(n *html.Node, key, name string) (HandlerFunc, bool) {
	for _, rule := range t.handlers {
		if rule.key == key && rule.name == name && t.matches(n, rule.xpath) {
			return rule.fn, true
		}
	}
	return nil, false
}

func (t *Tree) describe(n *html.Node) render.NodeInfo {
	info := render.NodeInfo{
		Tag:  n.Data,
		ID:   attr(n, "id"),
		Name: attr(n, "name"),
		Type: attr(n, "type"),
		Role: attr(n, "role"),
		Text: render.NormalizeText(textContent(n)),
	}
	if dv, ok := lookupAttr(n, "data-value"); ok {
		info.DataValue = &dv
	}

	st := t.state[n]
	switch {
	case st != nil && st.value != nil:
		info.Value = *st.value
	case n.Data == "textarea":
		info.Value = textContent(n)
	case n.Data == "input":
		info.Value = attr(n, "value")
	}
	if st != nil && st.checked != nil {
		info.Checked = *st.checked
	} else {
		_, info.Checked = lookupAttr(n, "checked")
		if n.Data != "input" {
			info.Checked = attr(n, "aria-checked") == "true"
		}
	}
	return info
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if c.Data == "script" || c.Data == "style" {
				return
			}
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func replaceText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func cloneTree(n *html.Node, mapping map[*html.Node]*html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	mapping[n] = c
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneTree(child, mapping))
	}
	return c
}
