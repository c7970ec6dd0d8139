package registry

import (
	"sync"
	"testing"
)

func TestGlobal_ReturnsSameInstance(t *testing.T) {
	r1 := Global()
	r2 := Global()
	if r1 != r2 {
		t.Error("Global() should return the same instance on every call")
	}
}

func TestGlobal_HasBuiltins(t *testing.T) {
	r := Global()
	if r.Len() == 0 {
		t.Fatal("Global registry should have built-in classes registered")
	}
	for _, name := range []string{"Note", "MarkdownNote", "Reroute", "PrimitiveStringMultiline"} {
		if !r.IsUIOnly(name) {
			t.Errorf("IsUIOnly(%q) = false, want true", name)
		}
	}
	if r.IsUIOnly("PrimitiveInt") {
		t.Error("primitive value nodes execute and must not be UI-only")
	}
	if r.IsUIOnly("KSampler") {
		t.Error("unregistered classes are not UI-only")
	}
}

func TestNew_IsIndependent(t *testing.T) {
	r := New()
	r.Register(ClassDef{Type: "Fast Groups Bypasser (rgthree)", Category: CategoryAnnotation, UIOnly: true})
	if Global().Has("Fast Groups Bypasser (rgthree)") {
		t.Error("registering on New() leaked into Global()")
	}
	if !r.IsUIOnly("Fast Groups Bypasser (rgthree)") {
		t.Error("custom UI-only class not honoured")
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newRegistry()
	r.Register(ClassDef{Type: "X", Category: CategoryOutput, DisplayName: "Ex"})

	got, ok := r.Get("X")
	if !ok {
		t.Fatal("Get should find registered class")
	}
	if got.DisplayName != "Ex" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Ex")
	}
	if !r.InCategory("X", CategoryOutput) || r.InCategory("X", CategoryReroute) {
		t.Error("InCategory mismatch")
	}
}

func TestRegistry_OverwritePreservesOrder(t *testing.T) {
	r := newRegistry()
	r.Register(ClassDef{Type: "a"})
	r.Register(ClassDef{Type: "b"})
	r.Register(ClassDef{Type: "a", Description: "updated"})

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() len = %d, want 2", len(all))
	}
	if all[0].Type != "a" || all[0].Description != "updated" || all[1].Type != "b" {
		t.Errorf("All() = %+v", all)
	}
}

func TestRegistry_TypesIn(t *testing.T) {
	r := New()
	got := r.TypesIn(CategoryImageLoader)
	if len(got) != 2 || got[0] != "LoadImage" || got[1] != "LoadImageMask" {
		t.Errorf("TypesIn(image_loader) = %v", got)
	}
	if len(r.TypesIn(CategoryVirtualSet)) == 0 || len(r.TypesIn(CategoryTextEncoder)) == 0 {
		t.Error("expected virtual set and text encoder builtins")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(ClassDef{Type: string(rune('a' + i%26))})
		}(i)
		go func() {
			defer wg.Done()
			_ = r.All()
			_ = r.IsUIOnly("a")
		}()
	}
	wg.Wait()
	if r.Len() != 26 {
		t.Errorf("Len() = %d, want 26", r.Len())
	}
}
