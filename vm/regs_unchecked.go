//go:build lilium_unchecked

package vm

import "unsafe"

// checked is false in unchecked builds: register access skips Go's bounds
// checks and the dispatch loop does not verify that frames fit the register
// file. Only run trusted modules with register files sized for their depth.
const checked = false

func load(regs []int64, i int) int64 {
	return *(*int64)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(regs)), uintptr(i)*8))
}

func store(regs []int64, i int, v int64) {
	*(*int64)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(regs)), uintptr(i)*8)) = v
}
