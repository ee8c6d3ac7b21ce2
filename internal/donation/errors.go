package donation

// Code is a machine-readable reason a lifecycle operation was refused.
type Code string

// Error codes surfaced to clients.
const (
	CodeExpired              Code = "EXPIRED"
	CodeAlreadyDonatable     Code = "ALREADY_DONATABLE"
	CodePrescriptionRequired Code = "PRESCRIPTION_REQUIRED"
	CodeUnsealedRequireForce Code = "UNSEALED_REQUIRE_FORCE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeSelfRequest          Code = "SELF_REQUEST"
	CodeNotAvailable         Code = "NOT_AVAILABLE"
	CodeDuplicateRequest     Code = "DUPLICATE_REQUEST"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInvalidDecision      Code = "INVALID_DECISION"
	CodeActiveDonationExists Code = "ACTIVE_DONATION_EXISTS"
	CodeRequestNotPending    Code = "REQUEST_NOT_PENDING"
	CodeLocationRequired     Code = "LOCATION_REQUIRED"
	CodeConflict             Code = "CONFLICT"
)

// Error is a refused lifecycle operation. Two errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errors returned by the evaluator and the Service.
var (
	ErrExpired              = &Error{CodeExpired, "medicine has expired"}
	ErrAlreadyDonatable     = &Error{CodeAlreadyDonatable, "medicine is already listed for donation"}
	ErrPrescriptionRequired = &Error{CodePrescriptionRequired, "prescription medicine must be verified before donation"}
	ErrUnsealedRequireForce = &Error{CodeUnsealedRequireForce, "medicine is unsealed; confirm with force to donate"}
	ErrNotFound             = &Error{CodeNotFound, "not found"}
	ErrSelfRequest          = &Error{CodeSelfRequest, "cannot request your own donation"}
	ErrNotAvailable         = &Error{CodeNotAvailable, "donation is not available"}
	ErrDuplicateRequest     = &Error{CodeDuplicateRequest, "you already requested this donation"}
	ErrForbidden            = &Error{CodeForbidden, "only the donation owner can resolve requests"}
	ErrInvalidDecision      = &Error{CodeInvalidDecision, "status must be ACCEPTED or REJECTED"}
	ErrActiveDonationExists = &Error{CodeActiveDonationExists, "medicine already has an active donation"}
	ErrRequestNotPending    = &Error{CodeRequestNotPending, "request has already been resolved"}
	ErrLocationRequired     = &Error{CodeLocationRequired, "set a city or postal code in your profile first"}
	ErrConflict             = &Error{CodeConflict, "concurrent modification, try again"}
)
