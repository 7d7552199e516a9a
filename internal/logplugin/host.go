package logplugin

import (
	"runtime"
	"unsafe"

	"github.com/containers/conmon-v3/internal/conmonerr"
	"github.com/ebitengine/purego"
)

// Handle is a loaded, initialized log plugin. The library handle must
// outlive the opaque state pointer; Close releases both, in order, and
// must run at most once.
type Handle struct {
	lib    uintptr
	opaque unsafe.Pointer
	vt     *vtableV1

	initFn  func(args uintptr, n uintptr, out unsafe.Pointer) int32
	writeFn func(opaque unsafe.Pointer, record uintptr) int32
	closeFn func(opaque unsafe.Pointer)

	closed bool
}

// Load resolves nameOrPath, dlopens the resulting library, validates and
// reads its v1 vtable, marshals args as a C kv_t array, and calls init.
func Load(nameOrPath string, args []KV) (*Handle, error) {
	path, err := Resolve(nameOrPath)
	if err != nil {
		return nil, err
	}

	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, conmonerr.Fatal("failed to dlopen log plugin %q: %s", path, err)
	}

	getterSym, err := purego.Dlsym(lib, GetterSymbol)
	if err != nil {
		purego.Dlclose(lib)
		return nil, conmonerr.Fatal("log plugin %q does not export %s: %s", path, GetterSymbol, err)
	}

	var getter func() uintptr
	purego.RegisterFunc(&getter, getterSym)
	vtPtr := getter()
	if vtPtr == 0 {
		purego.Dlclose(lib)
		return nil, conmonerr.Fatal("log plugin %q returned a null vtable", path)
	}
	vt := (*vtableV1)(unsafe.Pointer(vtPtr))

	if vt.ABIVersion != ABIVersion {
		purego.Dlclose(lib)
		return nil, conmonerr.Fatal("log plugin %q has unsupported abi_version %d (want %d)", path, vt.ABIVersion, ABIVersion)
	}
	if vt.StructSize < vtableV1Size {
		purego.Dlclose(lib)
		return nil, conmonerr.Fatal("log plugin %q vtable struct_size %d is smaller than v1 (%d)", path, vt.StructSize, vtableV1Size)
	}

	h := &Handle{lib: lib, vt: vt}
	purego.RegisterFunc(&h.initFn, vt.Init)
	purego.RegisterFunc(&h.writeFn, vt.Write)
	purego.RegisterFunc(&h.closeFn, vt.Close)

	kvArray, keep := marshalKV(args)

	var argsPtr uintptr
	if len(kvArray) > 0 {
		argsPtr = uintptr(unsafe.Pointer(&kvArray[0]))
	}

	var out unsafe.Pointer
	rc := h.initFn(argsPtr, uintptr(len(args)), unsafe.Pointer(&out))
	runtime.KeepAlive(kvArray)
	runtimeKeepAlive(keep)
	if rc != 0 || out == nil {
		purego.Dlclose(lib)
		return nil, conmonerr.Fatal("log plugin %q init failed (rc=%d)", path, rc)
	}
	h.opaque = out

	return h, nil
}

// Write forwards data to the plugin's write function. The return value
// is advisory per spec §4.5; callers (the multiplexer) should log but
// never act on a non-nil error.
func (h *Handle) Write(isStdout bool, data []byte) error {
	stream := StreamStderr
	if isStdout {
		stream = StreamStdout
	}

	rec := recordT{Stream: uint32(stream)}
	if len(data) > 0 {
		rec.Data = uintptr(unsafe.Pointer(&data[0]))
	}
	rec.Len = uintptr(len(data))

	rc := h.writeFn(h.opaque, uintptr(unsafe.Pointer(&rec)))
	if rc != 0 {
		return conmonerr.Fatal("log plugin write returned %d", rc)
	}
	return nil
}

// Close calls the plugin's close exactly once, then releases the
// library. Calling Close more than once is a no-op.
func (h *Handle) Close() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	h.closeFn(h.opaque)
	return purego.Dlclose(h.lib)
}

// marshalKV builds a contiguous kv_t array and returns the backing
// C-string byte slices that must stay alive (and unmoved) for the
// duration of the init call.
func marshalKV(args []KV) ([]kvT, []*[]byte) {
	out := make([]kvT, len(args))
	keep := make([]*[]byte, 0, len(args)*2)

	for i, kv := range args {
		k := append([]byte(kv.Key), 0)
		v := append([]byte(kv.Value), 0)
		keep = append(keep, &k, &v)
		out[i] = kvT{
			Key:   uintptr(unsafe.Pointer(&k[0])),
			Value: uintptr(unsafe.Pointer(&v[0])),
		}
	}
	return out, keep
}

// runtimeKeepAlive keeps the C-string byte slices in keep reachable up to
// its call site; Load calls it after initFn returns, since the kv_t array
// refers to them only through uintptr values the garbage collector does
// not trace.
func runtimeKeepAlive(keep []*[]byte) {
	runtime.KeepAlive(keep)
}
