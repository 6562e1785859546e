package query

import (
	"testing"

	"github.com/nainya/triplestore/internal/types"
)

func TestContextBasic(t *testing.T) {
	ctx := NewContext()
	if ctx.Len() != 0 {
		t.Fatal("expected new context to be empty")
	}
	ctx.Set("x", ValueDatom(types.StringValue("hello")))
	if !ctx.Has("x") {
		t.Fatal("expected x to be bound")
	}
	if ctx.Has("y") {
		t.Fatal("expected y to be unbound")
	}
	if ctx.Len() != 1 {
		t.Fatalf("expected 1 binding, got %d", ctx.Len())
	}
	d, ok := ctx.Get("x")
	if !ok || d.Value.Str != "hello" {
		t.Fatalf("expected x bound to hello, got %+v ok=%v", d, ok)
	}
}

func TestContextClone(t *testing.T) {
	ctx1 := NewContext()
	ctx1.Set("x", ValueDatom(types.NumberValue(42)))

	ctx2 := ctx1.Clone()
	if !ctx2.Has("x") {
		t.Fatal("expected clone to carry binding")
	}
	ctx2.Set("y", ValueDatom(types.NumberValue(1)))
	if ctx1.Has("y") {
		t.Fatal("expected clone to be independent of original")
	}
}

func TestContextMerge(t *testing.T) {
	ctx1 := NewContext()
	ctx2 := NewContext()
	ctx1.Set("x", ValueDatom(types.StringValue("a")))
	ctx2.Set("y", ValueDatom(types.StringValue("b")))

	ctx1.Merge(ctx2)
	if !ctx1.Has("x") || !ctx1.Has("y") {
		t.Fatal("expected merged context to carry both bindings")
	}
	if ctx1.Len() != 2 {
		t.Fatalf("expected 2 bindings, got %d", ctx1.Len())
	}
}

func TestContextConsistency(t *testing.T) {
	ctx1 := NewContext()
	ctx2 := NewContext()
	ctx1.Set("x", ValueDatom(types.StringValue("same")))
	ctx2.Set("x", ValueDatom(types.StringValue("same")))

	if !ctx1.IsConsistentWith(ctx2) {
		t.Fatal("expected consistent contexts")
	}

	ctx2.Set("x", ValueDatom(types.StringValue("different")))
	if ctx1.IsConsistentWith(ctx2) {
		t.Fatal("expected inconsistent contexts")
	}
}

func TestContextCombine(t *testing.T) {
	ctx1 := NewContext()
	ctx2 := NewContext()
	ctx1.Set("x", ValueDatom(types.StringValue("a")))
	ctx2.Set("y", ValueDatom(types.StringValue("b")))

	combined, ok := ctx1.Combine(ctx2)
	if !ok {
		t.Fatal("expected contexts to combine")
	}
	if !combined.Has("x") || !combined.Has("y") {
		t.Fatal("expected combined context to carry both bindings")
	}

	ctx2.Set("x", ValueDatom(types.StringValue("different")))
	if _, ok := ctx1.Combine(ctx2); ok {
		t.Fatal("expected inconsistent contexts not to combine")
	}
}

func TestContextWithEntity(t *testing.T) {
	ctx := NewContext()
	ctx.Set("e", EntityDatom(types.EntityIDFromString("user1")))

	d, ok := ctx.Get("e")
	if !ok || d.Kind != DatomEntity {
		t.Fatalf("expected bound entity datom, got %+v ok=%v", d, ok)
	}
}
