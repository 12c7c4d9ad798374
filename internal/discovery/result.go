package discovery

// Result is the outcome of a resolution: Found(address) or NotFound.
type Result struct {
	address string
	found   bool
}

// NotFound is the Result of a lookup that did not resolve.
var NotFound = Result{}

// Found returns a resolved Result.
func Found(address string) Result {
	return Result{address: address, found: true}
}

// Address returns the resolved address and whether there was one.
func (r Result) Address() (string, bool) {
	return r.address, r.found
}

// IsFound reports whether the Result carries an address.
func (r Result) IsFound() bool {
	return r.found
}

func (r Result) String() string {
	if !r.found {
		return "NotFound"
	}
	return "Found(" + r.address + ")"
}
