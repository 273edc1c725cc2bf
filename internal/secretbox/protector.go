// Package secretbox implements the student agent's secret protector: an
// opaque protect/unprotect pair guarding the binding token at rest.
package secretbox

// Protector is the contract every platform implementation satisfies.
// protect/unprotect MUST round-trip: Unprotect(Protect(x)) == x.
type Protector interface {
	// Name identifies the implementation so callers can refuse a weak one
	// (e.g. "null") in a production build.
	Name() string
	Protect(plain []byte) (opaque []byte, err error)
	Unprotect(opaque []byte) (plain []byte, err error)
}

// NullProtector is the identity implementation: Protect and Unprotect are
// no-ops. Acceptable for non-Windows development only — its Name is "null"
// precisely so production code can refuse it.
type NullProtector struct{}

func (NullProtector) Name() string { return "null" }

func (NullProtector) Protect(plain []byte) ([]byte, error) {
	out := make([]byte, len(plain))
	copy(out, plain)
	return out, nil
}

func (NullProtector) Unprotect(opaque []byte) ([]byte, error) {
	out := make([]byte, len(opaque))
	copy(out, opaque)
	return out, nil
}

// IsProductionSafe reports whether p is suitable for a production binding
// store. Only the null implementation is refused; any keyed implementation
// (identified by a non-"null" Name) passes.
func IsProductionSafe(p Protector) bool {
	return p.Name() != "null"
}
