package jit

import "unsafe"

func unsafeAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func ptrOf(p *uint64) uintptr { return uintptr(unsafe.Pointer(p)) }
