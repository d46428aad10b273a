package buffer

import (
	"bytes"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantMin  int
	}{
		{"valid_capacity", 1024, 1024},
		{"zero_uses_default", 0, defaultCapacity},
		{"small_uses_default", 10, defaultCapacity},
		{"negative_uses_default", -1, defaultCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.capacity)
			if b == nil {
				t.Fatal("New returned nil")
			}
			if b.cap < tt.wantMin {
				t.Errorf("cap = %d, want >= %d", b.cap, tt.wantMin)
			}
		})
	}
}

func TestNew_InitialState(t *testing.T) {
	b := New(100)
	if b.Len() != headerSize {
		t.Errorf("Len = %d, want %d", b.Len(), headerSize)
	}
	if len(b.Bytes()) != 0 {
		t.Error("new buffer should have no visible bytes")
	}
}

func TestAllocateOffset(t *testing.T) {
	b := New(200)

	offset := b.AllocateOffset(20)
	if offset != headerSize {
		t.Errorf("first AllocateOffset = %d, want %d", offset, headerSize)
	}

	offset = b.AllocateOffset(20)
	if offset != headerSize+20 {
		t.Errorf("second AllocateOffset = %d, want %d", offset, headerSize+20)
	}

	b = New(100)
	startOffset := b.Len()
	offset = b.AllocateOffset(0)
	if offset != startOffset {
		t.Errorf("AllocateOffset(0) = %d, want %d", offset, startOffset)
	}
}

func TestAllocateOffset_TriggersGrow(t *testing.T) {
	b := New(100)
	offset := b.AllocateOffset(200)
	if b.cap < 200+headerSize {
		t.Error("AllocateOffset should grow capacity when it overflows")
	}
	if offset != headerSize {
		t.Errorf("offset = %d, want %d", offset, headerSize)
	}
}

func TestAllocateOffset_PreservesData(t *testing.T) {
	b := New(100)
	off := b.AllocateOffset(5)
	copy(b.data[off:off+5], []byte("hello"))
	b.AllocateOffset(500) // triggers a realloc
	if !bytes.Equal(b.Bytes()[:5], []byte("hello")) {
		t.Error("growing should preserve previously written data")
	}
}

func TestAllocateOffset_PanicNilData(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on released buffer")
		}
	}()
	b := New(100)
	b.Release()
	b.AllocateOffset(10)
}

func TestBytes(t *testing.T) {
	b := New(100)
	if len(b.Bytes()) != 0 {
		t.Error("empty buffer Bytes should be empty")
	}

	off := b.AllocateOffset(5)
	copy(b.data[off:off+5], []byte("hello"))
	if !bytes.Equal(b.Bytes(), []byte("hello")) {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), "hello")
	}

	b.Reset()
	if len(b.Bytes()) != 0 {
		t.Error("after reset Bytes should be empty")
	}
}

func TestReset(t *testing.T) {
	b := New(100)
	b.AllocateOffset(4)
	capBefore := b.cap

	b.Reset()
	if b.Len() != headerSize {
		t.Errorf("after Reset Len = %d, want %d", b.Len(), headerSize)
	}
	if b.cap != capBefore {
		t.Error("Reset should preserve capacity")
	}
}

func TestReset_Reusable(t *testing.T) {
	b := New(100)
	off := b.AllocateOffset(5)
	copy(b.data[off:off+5], []byte("first"))
	b.Reset()

	off = b.AllocateOffset(6)
	copy(b.data[off:off+6], []byte("second"))
	if !bytes.Equal(b.Bytes(), []byte("second")) {
		t.Error("buffer should be reusable after Reset")
	}
}

func TestRelease(t *testing.T) {
	b := New(100)
	err := b.Release()
	if err != nil {
		t.Errorf("Release error: %v", err)
	}
	if b.data != nil {
		t.Error("after Release data should be nil")
	}
}

func TestRelease_CallsReleaseFn(t *testing.T) {
	b := New(100)
	called := false
	b.ReleaseFn = func() { called = true }
	if err := b.Release(); err != nil {
		t.Errorf("Release error: %v", err)
	}
	if !called {
		t.Error("Release should invoke ReleaseFn when set")
	}
	if b.data == nil {
		t.Error("ReleaseFn path should not itself nil out data")
	}
}
