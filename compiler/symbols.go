package compiler

import "github.com/chazu/lilium/bytecode"

// MaxParams is the largest parameter count a function may declare. Argument
// i is relocated with mvo into target register 2+i, which must fit a byte.
const MaxParams = bytecode.Window - 2

// FunctionInfo describes a function definition collected in pass 1.
type FunctionInfo struct {
	ID       uint32
	Name     string
	Params   []string
	NameSpan Span
	Def      *FuncDef
}

// FunctionTable maps function names to ids. It is built once by
// CollectFunctions and only read afterwards.
type FunctionTable struct {
	byName map[string]*FunctionInfo
	order  []*FunctionInfo
}

// CollectFunctions registers every top-level definition in source order.
func CollectFunctions(exprs []Expr) (*FunctionTable, error) {
	ft := &FunctionTable{byName: make(map[string]*FunctionInfo)}
	for _, e := range exprs {
		def, ok := e.(*FuncDef)
		if !ok {
			continue
		}
		if prev, dup := ft.byName[def.Name]; dup {
			return nil, errorAt(def.NameSpan.Start, ErrDuplicateFunction, def.Name,
				"first defined at %d:%d", prev.NameSpan.Start.Line, prev.NameSpan.Start.Column)
		}
		if len(ft.order) > bytecode.MaxAddr24 {
			return nil, errorAt(def.NameSpan.Start, ErrTooManyFunctions, def.Name, "")
		}
		if len(def.Params) > MaxParams {
			return nil, errorAt(def.NameSpan.Start, ErrRegisterOverflow, def.Name,
				"%d parameters, at most %d allowed", len(def.Params), MaxParams)
		}
		info := &FunctionInfo{
			ID:       uint32(len(ft.order)),
			Name:     def.Name,
			Params:   def.Params,
			NameSpan: def.NameSpan,
			Def:      def,
		}
		ft.byName[def.Name] = info
		ft.order = append(ft.order, info)
	}
	return ft, nil
}

// Lookup returns the function registered under name.
func (ft *FunctionTable) Lookup(name string) (*FunctionInfo, bool) {
	info, ok := ft.byName[name]
	return info, ok
}

// Functions returns all functions in id order.
func (ft *FunctionTable) Functions() []*FunctionInfo {
	return ft.order
}

// Len returns the number of registered functions.
func (ft *FunctionTable) Len() int {
	return len(ft.order)
}

// BindingKind tags what a name is bound to.
type BindingKind uint8

const (
	BindParam BindingKind = iota // function parameter
	BindLocal                    // let binding
)

// Binding is a variable's location in the current frame.
type Binding struct {
	Kind BindingKind
	Reg  int
}

// scope is the set of variables visible at a point in a function body,
// plus the first register not held by any of them.
type scope struct {
	vars map[string]Binding
	next int
}

func newScope(next int) *scope {
	return &scope{vars: make(map[string]Binding), next: next}
}

// clone returns a child scope; bindings added to it do not leak out.
func (s *scope) clone() *scope {
	c := &scope{vars: make(map[string]Binding, len(s.vars)+2), next: s.next}
	for k, v := range s.vars {
		c.vars[k] = v
	}
	return c
}

func (s *scope) bind(name string, kind BindingKind, reg int) {
	s.vars[name] = Binding{Kind: kind, Reg: reg}
	if reg >= s.next {
		s.next = reg + 1
	}
}

func (s *scope) lookup(name string) (Binding, bool) {
	b, ok := s.vars[name]
	return b, ok
}
