// Command opcode-lint checks the native VM's opcode catalogue for
// duplicate names. Byte values are the catalogue's map keys, so they are
// not checked separately.
package main

import (
	"fmt"
	"log"

	core "cvmhat-network/core"
)

func main() {
	ops := core.Catalogue()
	seenNames := make(map[string]struct{})
	for op, name := range ops {
		if _, ok := seenNames[name]; ok {
			log.Fatalf("duplicate opcode name %s", name)
		}
		seenNames[name] = struct{}{}
		_ = op
	}
	fmt.Printf("checked %d opcodes, no collisions detected\n", len(ops))
}
