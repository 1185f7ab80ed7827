//go:build !lilium_unchecked

package vm

// checked enables frame push, cross-frame write and return checks in the
// dispatch loop. Build with -tags lilium_unchecked to drop them.
const checked = true

func load(regs []int64, i int) int64 {
	return regs[i]
}

func store(regs []int64, i int, v int64) {
	regs[i] = v
}
