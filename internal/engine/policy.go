package engine

import (
	"fmt"
	"strings"
)

// MergePolicy resolves a quantity conflict for a product held both locally
// and on the server. The result is clamped to stock afterwards.
type MergePolicy func(local, remote int) int

// MaxQuantity keeps the larger quantity so items added offline are not lost.
func MaxQuantity(local, remote int) int {
	return max(local, remote)
}

// PreferLocal keeps the local quantity.
func PreferLocal(local, _ int) int {
	return local
}

// PreferRemote keeps the server quantity.
func PreferRemote(_, remote int) int {
	return remote
}

// SumQuantity adds both quantities.
func SumQuantity(local, remote int) int {
	return local + remote
}

// PolicyByName maps a config name to a policy. Empty selects MaxQuantity.
func PolicyByName(name string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "max":
		return MaxQuantity, nil
	case "local":
		return PreferLocal, nil
	case "remote":
		return PreferRemote, nil
	case "sum":
		return SumQuantity, nil
	default:
		return nil, fmt.Errorf("unknown merge policy %q", name)
	}
}
