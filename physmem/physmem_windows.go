//go:build windows

package physmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsAlloc backs guest RAM with VirtualAlloc, the Windows counterpart
// to the POSIX mmap path in physmem_unix.go.
type windowsAlloc struct{}

func (windowsAlloc) alloc(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (windowsAlloc) free(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func init() {
	hostAlloc = windowsAlloc{}
}
