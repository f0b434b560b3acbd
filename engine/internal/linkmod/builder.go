// Package linkmod synthesizes the link module that gives the native library
// an address space: it owns the linear memory, re-exports every native
// symbol, exposes the funcref table that function pointers index, and
// provides call_indirect trampolines for invoking function pointers.
package linkmod

import (
	"github.com/tetratelabs/wazero/api"
)

// Builder builds a link module.
//
// Function index space: imports [0,n), re-export wrappers [n,2n), invokers
// from 2n. Table slot i holds import i, so a function pointer is the import
// index.
type Builder struct {
	imports      []importFunc
	invokers     []invoker
	memoryPages  uint32
	memoryExport string
	tableExport  string
}

type importFunc struct {
	module  string
	name    string
	params  []api.ValueType
	results []api.ValueType
}

type invoker struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// New creates a builder with a one page memory exported as "memory".
func New() *Builder {
	return &Builder{
		memoryPages:  1,
		memoryExport: "memory",
		tableExport:  "__indirect_function_table",
	}
}

// AddImport imports module.name and re-exports it as name. It returns the
// function pointer (table index) of the import.
func (b *Builder) AddImport(module, name string, params, results []api.ValueType) uint32 {
	b.imports = append(b.imports, importFunc{
		module:  module,
		name:    name,
		params:  params,
		results: results,
	})
	return uint32(len(b.imports) - 1)
}

// AddInvoker exports name as a trampoline taking a function pointer followed
// by params, calling the pointer indirectly with params.
func (b *Builder) AddInvoker(name string, params, results []api.ValueType) {
	b.invokers = append(b.invokers, invoker{
		name:    name,
		params:  params,
		results: results,
	})
}

// SetMemory sets the initial size of the defined memory.
func (b *Builder) SetMemory(pages uint32) {
	b.memoryPages = pages
}

// MemoryExport is the export name of the linear memory.
func (b *Builder) MemoryExport() string {
	return b.memoryExport
}

// TableExport is the export name of the funcref table.
func (b *Builder) TableExport() string {
	return b.tableExport
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	var wasm []byte

	// Magic and version
	wasm = append(wasm, 0x00, 0x61, 0x73, 0x6d)
	wasm = append(wasm, 0x01, 0x00, 0x00, 0x00)

	wasm = appendSection(wasm, 0x01, b.buildTypeSection())
	if len(b.imports) > 0 {
		wasm = appendSection(wasm, 0x02, b.buildImportSection())
	}
	wasm = appendSection(wasm, 0x03, b.buildFuncSection())
	wasm = appendSection(wasm, 0x04, b.buildTableSection())
	wasm = appendSection(wasm, 0x05, b.buildMemorySection())
	wasm = appendSection(wasm, 0x07, b.buildExportSection())
	if len(b.imports) > 0 {
		wasm = appendSection(wasm, 0x09, b.buildElemSection())
	}
	wasm = appendSection(wasm, 0x0a, b.buildCodeSection())
	return wasm
}

// Type indices: import i uses type i; invoker k uses type n+2k for its
// target and n+2k+1 for itself.
func (b *Builder) targetType(k int) uint32 {
	return uint32(len(b.imports) + 2*k)
}

func (b *Builder) invokerType(k int) uint32 {
	return b.targetType(k) + 1
}

func (b *Builder) buildTypeSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.imports)+2*len(b.invokers)))...)

	for _, f := range b.imports {
		section = appendFuncType(section, f.params, f.results)
	}
	for _, inv := range b.invokers {
		section = appendFuncType(section, inv.params, inv.results)
		withPtr := append([]api.ValueType{api.ValueTypeI32}, inv.params...)
		section = appendFuncType(section, withPtr, inv.results)
	}
	return section
}

func (b *Builder) buildImportSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.imports)))...)
	for i, f := range b.imports {
		section = appendName(section, f.module)
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *Builder) buildFuncSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.imports)+len(b.invokers)))...)
	for i := range b.imports {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	for k := range b.invokers {
		section = append(section, EncodeULEB128(b.invokerType(k))...)
	}
	return section
}

func (b *Builder) buildTableSection() []byte {
	size := uint32(len(b.imports))
	var section []byte
	section = append(section, 0x01)
	section = append(section, 0x70)
	section = append(section, 0x01)
	section = append(section, EncodeULEB128(size)...)
	section = append(section, EncodeULEB128(size)...)
	return section
}

func (b *Builder) buildMemorySection() []byte {
	var section []byte
	section = append(section, 0x01)
	section = append(section, 0x00)
	section = append(section, EncodeULEB128(b.memoryPages)...)
	return section
}

func (b *Builder) buildExportSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(2+len(b.imports)+len(b.invokers)))...)

	section = appendName(section, b.memoryExport)
	section = append(section, 0x02, 0x00)

	section = appendName(section, b.tableExport)
	section = append(section, 0x01, 0x00)

	n := len(b.imports)
	for i, f := range b.imports {
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(n+i))...)
	}
	for k, inv := range b.invokers {
		section = appendName(section, inv.name)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(2*n+k))...)
	}
	return section
}

func (b *Builder) buildElemSection() []byte {
	var section []byte
	section = append(section, 0x01)
	section = append(section, 0x00)
	section = append(section, 0x41, 0x00)
	section = append(section, 0x0b)

	section = append(section, EncodeULEB128(uint32(len(b.imports)))...)
	for i := range b.imports {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *Builder) buildCodeSection() []byte {
	var section []byte
	section = append(section, EncodeULEB128(uint32(len(b.imports)+len(b.invokers)))...)

	for i, f := range b.imports {
		body := buildWrapperBody(i, f)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	for k, inv := range b.invokers {
		body := buildInvokerBody(b.targetType(k), inv)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

func buildWrapperBody(importIdx int, f importFunc) []byte {
	var body []byte
	body = append(body, 0x00)

	for i := range f.params {
		body = append(body, 0x20)
		body = append(body, EncodeULEB128(uint32(i))...)
	}

	body = append(body, 0x10)
	body = append(body, EncodeULEB128(uint32(importIdx))...)
	body = append(body, 0x0b)
	return body
}

// buildInvokerBody forwards locals 1..m and dispatches on local 0.
func buildInvokerBody(typeIdx uint32, inv invoker) []byte {
	var body []byte
	body = append(body, 0x00)

	for i := range inv.params {
		body = append(body, 0x20)
		body = append(body, EncodeULEB128(uint32(i+1))...)
	}
	body = append(body, 0x20, 0x00)

	body = append(body, 0x11)
	body = append(body, EncodeULEB128(typeIdx)...)
	body = append(body, 0x00)
	body = append(body, 0x0b)
	return body
}
