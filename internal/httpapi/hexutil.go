package httpapi

import "fmt"

// hexUint renders a uint64 as a JavaScript-safe 0x-prefixed hex string
// (spec.md §4.8: "large integers encoded as 0x-prefixed hex strings").
// Small enough call-site count that pulling in go-ethereum's full
// common/hexutil package (SPEC_FULL.md's own guidance) isn't worth it.
func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
