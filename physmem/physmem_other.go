//go:build !unix && !windows

package physmem

// plainAlloc is the portable fallback for GOOS values that are neither
// unix-family nor windows (e.g. js/wasm): a plain heap slice. It loses
// the "real page-aligned host mapping" property but keeps the package
// buildable everywhere.
type plainAlloc struct{}

func (plainAlloc) alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (plainAlloc) free(mem []byte) error {
	return nil
}

func init() {
	hostAlloc = plainAlloc{}
}
