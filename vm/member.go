package vm

import "unicode/utf16"

// ---------------------------------------------------------------------------
// Property access on arbitrary values
// ---------------------------------------------------------------------------

// propertyKey converts an element index to the interned property name it
// addresses.
func (e *Engine) propertyKey(v Value) *String {
	if v.IsString() && v.Str().Interned() {
		return v.Str()
	}
	return e.Identifier(ToString(v))
}

// GetMember reads base.name. Reading through undefined or null is a
// TypeError; other primitives look the name up on the object prototype,
// except for the length of a string.
func (e *Engine) GetMember(base Value, name *String) (Value, error) {
	switch base.Kind() {
	case KindUndefined, KindNull:
		return Undefined, e.typeError("Cannot read property '%s' of %s", name.Text(), ToString(base))
	case KindObject:
		v, _ := base.Object().Get(name)
		return v, nil
	case KindString:
		if name == e.ids.length {
			return NumberValue(float64(len(utf16.Encode([]rune(base.Str().Text()))))), nil
		}
	}
	v, _ := e.ObjectPrototype.Get(name)
	return v, nil
}

// PutMember writes base.name. Writes to primitives are dropped.
func (e *Engine) PutMember(ctx *Context, base Value, name *String, v Value) error {
	switch base.Kind() {
	case KindUndefined, KindNull:
		return e.typeError("Cannot set property '%s' of %s", name.Text(), ToString(base))
	case KindObject:
		return ctx.put(base.Object(), name, v)
	}
	return nil
}

// DeleteMember deletes base.name. A failed delete is a TypeError in strict
// code and false otherwise.
func (e *Engine) DeleteMember(ctx *Context, base Value, name *String) (bool, error) {
	switch base.Kind() {
	case KindUndefined, KindNull:
		return false, e.typeError("Cannot convert %s to object", ToString(base))
	case KindObject:
		if base.Object().Delete(name) {
			return true, nil
		}
		if ctx.IsStrict() {
			return false, e.typeError("Cannot delete property '%s' of %s", name.Text(), ToString(base))
		}
		return false, nil
	}
	return true, nil
}
