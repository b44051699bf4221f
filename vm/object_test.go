package vm

import "testing"

func TestObjectPutRespectsReadOnly(t *testing.T) {
	pool := NewStringPool()
	x := pool.Intern("x")

	proto := NewObject(nil)
	proto.DefineOwnProperty(x, num(1), AttrReadOnly)
	obj := NewObject(proto)

	if obj.Put(x, num(2)) {
		t.Error("Put succeeded over an inherited read-only property")
	}
	if obj.HasOwnProperty(x) {
		t.Error("failed Put created an own property")
	}
	if proto.Put(x, num(2)) {
		t.Error("Put succeeded on an own read-only property")
	}
	if got, _ := obj.Get(x); !StrictEquals(got, num(1)) {
		t.Errorf("x = %v, want 1", got)
	}
}

func TestObjectDelete(t *testing.T) {
	pool := NewStringPool()
	a, b := pool.Intern("a"), pool.Intern("b")

	obj := NewObject(nil)
	obj.Put(a, True)
	obj.DefineOwnProperty(b, True, AttrWritable)

	if !obj.Delete(a) || obj.HasOwnProperty(a) {
		t.Error("configurable property was not deleted")
	}
	if obj.Delete(b) || !obj.HasOwnProperty(b) {
		t.Error("non-configurable property was deleted")
	}
	if !obj.Delete(pool.Intern("missing")) {
		t.Error("deleting a missing property should succeed")
	}
	if keys := obj.Keys(); len(keys) != 1 || keys[0] != b {
		t.Errorf("Keys = %v, want [b]", names(keys))
	}
}

func TestStringPoolInterns(t *testing.T) {
	pool := NewStringPool()
	a := pool.Intern("name")
	if b := pool.Intern("name"); a != b {
		t.Error("equal text produced distinct handles")
	}
	if got := pool.ByID(a.ID()); got != a {
		t.Errorf("ByID(%d) = %v, want %v", a.ID(), got, a)
	}
	if _, ok := pool.Lookup("other"); ok {
		t.Error("Lookup created an entry")
	}
	pool.Release()
	if pool.Len() != 0 {
		t.Errorf("Len after Release = %d, want 0", pool.Len())
	}
	if a.Text() != "name" {
		t.Error("released handle lost its text")
	}
}
