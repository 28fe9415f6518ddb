package finder

import "github.com/nbdd0121/unwinding/pkg/registry"

// RegistrySubFinder adapts a *registry.Registry to the SubFinder
// interface, making it installable as the first link of a Composite chain
// as the cheapest, highest-priority source of FDEs.
type RegistrySubFinder struct {
	Registry *registry.Registry
}

func (r RegistrySubFinder) FindFDE(pc uint64) (Result, bool) {
	reg := r.Registry
	if reg == nil {
		reg = &registry.Default
	}
	fde, bases, ok := reg.FindFDE(pc)
	if !ok {
		return Result{}, false
	}
	return Result{FDE: fde, Bases: bases}, true
}
