// Package logplugin implements the stable C-ABI boundary used to
// dynamically load log sinks: resolution of a name-or-path argument to a
// shared library, loading it with github.com/ebitengine/purego (no cgo),
// and the init/write/close lifecycle over the versioned v1 vtable (see
// spec §4.5).
package logplugin

import "unsafe"

// ABIVersion is the only vtable layout this host understands.
const ABIVersion uint32 = 1

// GetterSymbol is the one C symbol every plugin shared library exports.
const GetterSymbol = "conmon_log_plugin_v1_get"

// Stream tags a LogRecord's origin.
type Stream uint32

const (
	StreamStdout Stream = 0
	StreamStderr Stream = 1
)

// vtableV1 mirrors the C ABI's struct vtable_v1 byte-for-byte: three u32
// fields (with the compiler's implicit 4 bytes of padding before the
// first 8-byte-aligned pointer field on LP64 targets), then three
// function pointers. struct_size exists so that a future v2 vtable can
// grow past this layout without breaking v1 callers — v1 hosts must
// never read past StructSize bytes.
type vtableV1 struct {
	ABIVersion uint32
	StructSize uint32
	Flags      uint32
	_          uint32 // alignment padding, matches the C compiler's layout

	Init  uintptr // int32 (*)(const kv_t *args, size_t n_args, opaque **out)
	Write uintptr // int32 (*)(opaque *, const record_t *)
	Close uintptr // void  (*)(opaque *)
}

const vtableV1Size = uint32(unsafe.Sizeof(vtableV1{}))

// kvT mirrors the C ABI's kv_t: two NUL-terminated UTF-8 C strings.
type kvT struct {
	Key   uintptr
	Value uintptr
}

// recordT mirrors the C ABI's record_t.
type recordT struct {
	Stream uint32
	_      uint32 // padding before the pointer field
	Data   uintptr
	Len    uintptr
	Flags  uint32
	_      uint32
}

// KV is a single key/value argument passed to a plugin's init.
type KV struct {
	Key, Value string
}
