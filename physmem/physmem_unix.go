//go:build unix

package physmem

import "golang.org/x/sys/unix"

// unixAlloc backs guest RAM with an anonymous mmap so the host pointer
// handed out by Region.HostPtr() is a real page-aligned mapping, not a GC
// slice that the runtime may move or that page-aligned DMA shortcuts
// would otherwise have to fake.
type unixAlloc struct{}

func (unixAlloc) alloc(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func (unixAlloc) free(mem []byte) error {
	return unix.Munmap(mem)
}

func init() {
	hostAlloc = unixAlloc{}
}
