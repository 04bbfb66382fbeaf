package errs

// ErrorKind identifies a kind of internal error.
// fully support for errors.Is and errors.As.
type ErrorKind string

const (
	// InvalidArgument is returned for malformed or out-of-range input. No state is changed.
	InvalidArgument = ErrorKind("Invalid Argument")

	// NotFound is returned when a requested item is not found.
	NotFound = ErrorKind("Not Found")

	// Conflict is returned when a state-machine precondition is violated.
	Conflict = ErrorKind("Conflict")

	// Unauthorized is returned when a signature does not verify.
	Unauthorized = ErrorKind("Unauthorized")

	// Forbidden is returned on identity mismatch, e.g. a seller buying its own order.
	Forbidden = ErrorKind("Forbidden")

	// PaymentRequired is returned when a website has no funded views left.
	PaymentRequired = ErrorKind("Payment Required")

	// UpstreamUnavailable is returned when no healthy chain endpoint is selected
	// or a request to it failed on the network.
	UpstreamUnavailable = ErrorKind("Upstream Unavailable")

	// UpstreamRejected is returned when the chain node answered but refused the request.
	UpstreamRejected = ErrorKind("Upstream Rejected")

	// PersistenceFailed is returned when a state snapshot could not be written.
	PersistenceFailed = ErrorKind("Persistence Failed")

	InternalError = ErrorKind("Internal Error")
	Unsupported   = ErrorKind("Unsupported")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}
