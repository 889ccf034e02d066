package modules

import "github.com/R3E-Network/apphost/internal/app/domain/module"

// Resolve recomputes the derived fields of desc. A dependency is available
// iff registered reports its name; the descriptor is resolved iff every
// dependency is available and no issues are outstanding.
func Resolve(desc module.Descriptor, registered func(name string) bool) module.Descriptor {
	out := desc.Clone()
	out.IsWebModule = out.Type == module.TypeWeb
	resolved := len(out.Issues) == 0
	for i := range out.Dependencies {
		out.Dependencies[i].Available = registered(out.Dependencies[i].Name)
		if !out.Dependencies[i].Available {
			resolved = false
		}
	}
	out.IsResolved = resolved
	return out
}

// ResolveAll resolves every descriptor against the names present in descs.
func ResolveAll(descs []module.Descriptor) []module.Descriptor {
	names := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		names[d.Name] = struct{}{}
	}
	registered := func(name string) bool {
		_, ok := names[name]
		return ok
	}
	out := make([]module.Descriptor, len(descs))
	for i, d := range descs {
		out[i] = Resolve(d, registered)
	}
	return out
}

func resolutionChanged(before, after module.Descriptor) bool {
	if before.IsResolved != after.IsResolved || before.IsWebModule != after.IsWebModule {
		return true
	}
	for i := range before.Dependencies {
		if before.Dependencies[i].Available != after.Dependencies[i].Available {
			return true
		}
	}
	return false
}
