package relay

// SecurityPolicy decides whether a failed signature check blocks a request.
// The zero value is strict. The permissive policy exists for development
// deployments only and is selected by the operator, never by a request.
type SecurityPolicy struct {
	allowUnverified bool
}

// StrictPolicy rejects every request whose signature does not verify.
func StrictPolicy() SecurityPolicy { return SecurityPolicy{} }

// PermissivePolicy lets requests through when verification fails or errors.
func PermissivePolicy() SecurityPolicy { return SecurityPolicy{allowUnverified: true} }

// EnforceSignatures reports whether verification failures are fatal.
func (p SecurityPolicy) EnforceSignatures() bool { return !p.allowUnverified }

func (p SecurityPolicy) String() string {
	if p.allowUnverified {
		return "permissive"
	}
	return "strict"
}
