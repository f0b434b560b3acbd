package linkmod

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var testMagicVersion = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

var (
	i32  = api.ValueTypeI32
	i64  = api.ValueTypeI64
	none []api.ValueType
)

func TestBuilder_Empty(t *testing.T) {
	wasm := New().Build()
	if !bytes.HasPrefix(wasm, testMagicVersion) {
		t.Fatal("expected valid WASM header")
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod, err := rt.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName("link"))
	if err != nil {
		t.Fatalf("failed to instantiate empty link module: %v", err)
	}
	if mod.Memory() == nil {
		t.Fatal("expected link module to define memory")
	}
	if got := mod.Memory().Size(); got != 65536 {
		t.Errorf("memory size = %d, want one page", got)
	}
}

func TestBuilder_AddImport(t *testing.T) {
	b := New()
	if ptr := b.AddImport("host", "add", []api.ValueType{i32, i32}, []api.ValueType{i32}); ptr != 0 {
		t.Errorf("first function pointer = %d, want 0", ptr)
	}
	if ptr := b.AddImport("host", "noop", none, none); ptr != 1 {
		t.Errorf("second function pointer = %d, want 1", ptr)
	}
	if len(b.imports) != 2 {
		t.Fatalf("expected 2 imports, got %d", len(b.imports))
	}
}

func instantiate(t *testing.T, ctx context.Context, rt wazero.Runtime, b *Builder) api.Module {
	t.Helper()
	_, err := rt.NewHostModuleBuilder("host").
		NewFunctionBuilder().WithFunc(func(a, b uint32) uint32 { return a + b }).Export("add").
		NewFunctionBuilder().WithFunc(func(a uint64) uint64 { return a * 2 }).Export("twice").
		NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, p uint32) uint32 {
		v, _ := mod.Memory().ReadUint32Le(p)
		return v
	}).Export("load").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("failed to create host module: %v", err)
	}

	mod, err := rt.InstantiateWithConfig(ctx, b.Build(), wazero.NewModuleConfig().WithName("link"))
	if err != nil {
		t.Fatalf("failed to instantiate link module: %v", err)
	}
	return mod
}

func TestBuilder_Wrappers(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	b := New()
	b.AddImport("host", "add", []api.ValueType{i32, i32}, []api.ValueType{i32})
	b.AddImport("host", "twice", []api.ValueType{i64}, []api.ValueType{i64})
	b.AddImport("host", "load", []api.ValueType{i32}, []api.ValueType{i32})
	mod := instantiate(t, ctx, rt, b)

	res, err := mod.ExportedFunction("add").Call(ctx, 2, 40)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if res[0] != 42 {
		t.Errorf("add(2, 40) = %d, want 42", res[0])
	}

	res, err = mod.ExportedFunction("twice").Call(ctx, 1<<40)
	if err != nil {
		t.Fatalf("twice failed: %v", err)
	}
	if res[0] != 1<<41 {
		t.Errorf("twice(1<<40) = %d, want %d", res[0], uint64(1<<41))
	}

	// host functions see the link module's memory
	if !mod.Memory().WriteUint32Le(128, 0xdeadbeef) {
		t.Fatal("write failed")
	}
	res, err = mod.ExportedFunction("load").Call(ctx, 128)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if uint32(res[0]) != 0xdeadbeef {
		t.Errorf("load(128) = 0x%x, want 0xdeadbeef", res[0])
	}
}

func TestBuilder_Invoker(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	b := New()
	addPtr := b.AddImport("host", "add", []api.ValueType{i32, i32}, []api.ValueType{i32})
	b.AddImport("host", "twice", []api.ValueType{i64}, []api.ValueType{i64})
	loadPtr := b.AddImport("host", "load", []api.ValueType{i32}, []api.ValueType{i32})
	b.AddInvoker("__invoke_ii_i", []api.ValueType{i32, i32}, []api.ValueType{i32})
	b.AddInvoker("__invoke_i_i", []api.ValueType{i32}, []api.ValueType{i32})
	mod := instantiate(t, ctx, rt, b)

	res, err := mod.ExportedFunction("__invoke_ii_i").Call(ctx, uint64(addPtr), 5, 6)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if res[0] != 11 {
		t.Errorf("invoke add = %d, want 11", res[0])
	}

	mod.Memory().WriteUint32Le(64, 7)
	res, err = mod.ExportedFunction("__invoke_i_i").Call(ctx, uint64(loadPtr), 64)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if res[0] != 7 {
		t.Errorf("invoke load = %d, want 7", res[0])
	}

	// signature mismatch traps
	if _, err := mod.ExportedFunction("__invoke_i_i").Call(ctx, uint64(addPtr), 1); err == nil {
		t.Error("expected call_indirect type mismatch to trap")
	}
	// out of range pointer traps
	if _, err := mod.ExportedFunction("__invoke_i_i").Call(ctx, 99, 1); err == nil {
		t.Error("expected out of range function pointer to trap")
	}
}

func TestBuilder_SetMemory(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	b := New()
	b.SetMemory(4)
	mod, err := rt.InstantiateWithConfig(ctx, b.Build(), wazero.NewModuleConfig().WithName("link"))
	if err != nil {
		t.Fatalf("failed to instantiate: %v", err)
	}
	if got := mod.Memory().Size(); got != 4*65536 {
		t.Errorf("memory size = %d, want %d", got, 4*65536)
	}
	if mod.ExportedMemory(b.MemoryExport()) == nil {
		t.Errorf("memory not exported as %q", b.MemoryExport())
	}
}

func TestEncodeULEB128(t *testing.T) {
	tests := []struct {
		expected []byte
		input    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}

	for _, tt := range tests {
		result := EncodeULEB128(tt.input)
		if !bytes.Equal(result, tt.expected) {
			t.Errorf("EncodeULEB128(%d) = %x, want %x", tt.input, result, tt.expected)
		}
	}
}
