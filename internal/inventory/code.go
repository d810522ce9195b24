package inventory

import (
	"fmt"
	"math/rand/v2"
)

// CodeGenerator produces candidate product codes.
type CodeGenerator func() string

// RandomProductCode returns INV- followed by six zero-padded random digits.
func RandomProductCode() string {
	return fmt.Sprintf("INV-%06d", rand.IntN(1_000_000))
}
