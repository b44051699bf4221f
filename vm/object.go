package vm

// ---------------------------------------------------------------------------
// Object: prototype-linked property bag
// ---------------------------------------------------------------------------

// PropertyAttr is a bit set of property attributes.
type PropertyAttr uint8

const (
	AttrWritable PropertyAttr = 1 << iota
	AttrEnumerable
	AttrConfigurable

	AttrDefault  = AttrWritable | AttrEnumerable | AttrConfigurable
	AttrReadOnly = PropertyAttr(0)
)

// Property is one own property slot.
type Property struct {
	Value Value
	Attrs PropertyAttr
}

func (p *Property) writable() bool     { return p.Attrs&AttrWritable != 0 }
func (p *Property) configurable() bool { return p.Attrs&AttrConfigurable != 0 }

// NativeFunc implements a host function. ctx is the caller's context.
type NativeFunc func(ctx *Context, this Value, args []Value) (Value, error)

// Object is a heap object. Keys are interned strings, so property lookup
// compares handles.
type Object struct {
	class string
	proto *Object
	props map[*String]*Property
	keys  []*String

	// Function objects carry exactly one of native or script.
	native NativeFunc
	script *Function
	scope  *Context
	name   string
}

// NewObject creates a plain object with the given prototype.
func NewObject(proto *Object) *Object {
	return &Object{
		class: "Object",
		proto: proto,
		props: make(map[*String]*Property),
	}
}

// Class returns the object's class tag.
func (o *Object) Class() string { return o.class }

// Prototype returns the prototype link, or nil.
func (o *Object) Prototype() *Object { return o.proto }

// SetPrototype replaces the prototype link.
func (o *Object) SetPrototype(p *Object) { o.proto = p }

// IsCallable reports whether the object is a function.
func (o *Object) IsCallable() bool {
	return o.native != nil || o.script != nil
}

// FunctionName returns the name of a function object.
func (o *Object) FunctionName() string { return o.name }

// Script returns the script function metadata, or nil for natives and plain
// objects.
func (o *Object) Script() *Function { return o.script }

// Scope returns the context a script function closes over.
func (o *Object) Scope() *Context { return o.scope }

// GetOwnProperty returns the own property slot for name, or nil.
func (o *Object) GetOwnProperty(name *String) *Property {
	return o.props[name]
}

// HasOwnProperty reports whether name is an own property.
func (o *Object) HasOwnProperty(name *String) bool {
	_, ok := o.props[name]
	return ok
}

// HasProperty reports whether name is an own or inherited property.
func (o *Object) HasProperty(name *String) bool {
	for obj := o; obj != nil; obj = obj.proto {
		if _, ok := obj.props[name]; ok {
			return true
		}
	}
	return false
}

// Get returns an own or inherited property.
func (o *Object) Get(name *String) (Value, bool) {
	for obj := o; obj != nil; obj = obj.proto {
		if p, ok := obj.props[name]; ok {
			return p.Value, true
		}
	}
	return Undefined, false
}

// Put assigns name. It creates an own property unless an own or inherited
// property of that name is read-only, in which case it returns false.
func (o *Object) Put(name *String, v Value) bool {
	if p, ok := o.props[name]; ok {
		if !p.writable() {
			return false
		}
		p.Value = v
		return true
	}
	for obj := o.proto; obj != nil; obj = obj.proto {
		if p, ok := obj.props[name]; ok && !p.writable() {
			return false
		}
	}
	o.props[name] = &Property{Value: v, Attrs: AttrDefault}
	o.keys = append(o.keys, name)
	return true
}

// DefineOwnProperty creates or replaces an own property with explicit
// attributes.
func (o *Object) DefineOwnProperty(name *String, v Value, attrs PropertyAttr) {
	if p, ok := o.props[name]; ok {
		p.Value = v
		p.Attrs = attrs
		return
	}
	o.props[name] = &Property{Value: v, Attrs: attrs}
	o.keys = append(o.keys, name)
}

// Delete removes an own property. It returns false only for a
// non-configurable property; deleting a missing property succeeds.
func (o *Object) Delete(name *String) bool {
	p, ok := o.props[name]
	if !ok {
		return true
	}
	if !p.configurable() {
		return false
	}
	delete(o.props, name)
	for i, k := range o.keys {
		if k == name {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns own property names in insertion order.
func (o *Object) Keys() []*String {
	out := make([]*String, len(o.keys))
	copy(out, o.keys)
	return out
}

// InstanceOf reports whether proto appears on o's prototype chain.
func (o *Object) InstanceOf(proto *Object) bool {
	for p := o.proto; p != nil; p = p.proto {
		if p == proto {
			return true
		}
	}
	return false
}
