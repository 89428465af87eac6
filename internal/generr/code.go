package generr

import "net/http"

// Err is a coded business error shared between the core packages and the
// HTTP layer. Compare with errors.Is against the values below.
type Err struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Err) Error() string {
	return e.Msg
}

// HTTPStatus maps an error code range to an HTTP response status.
func (e *Err) HTTPStatus() int {
	switch {
	case e.Code >= 400 && e.Code < 500:
		return e.Code
	case e.Code >= 600 && e.Code < 700:
		return http.StatusUnprocessableEntity
	case e.Code >= 700 && e.Code < 800:
		return http.StatusConflict
	case e.Code >= 800 && e.Code < 900:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var (
	ParseParam  = &Err{400, "malformed parameters"}
	NotFound    = &Err{404, "not found"}
	ServerError = &Err{500, "server error"}

	ReadDB   = &Err{598, "db read error"}
	UpdateDB = &Err{599, "db update error"}
)

// Validation failures: the caller corrects the input and retries.
var (
	Validation    = &Err{601, "incomplete or malformed submission"}
	BadEmotion    = &Err{602, "unknown emotion category"}
	BadNickname   = &Err{603, "nickname must be 1-15 alphanumeric characters"}
	NicknameTaken = &Err{604, "nickname already in use"}
	ProRequired   = &Err{605, "daily bonus requires an active pro plan"}
)

// Policy limits: not retryable until the limiting condition changes.
var (
	QuotaExceeded  = &Err{701, "daily quota for this category exhausted"}
	AlreadyClaimed = &Err{702, "daily bonus already claimed today"}
	LimitReached   = &Err{703, "invite code usage limit reached"}
	InvalidCode    = &Err{704, "unknown invite code"}
	ClaimInFlight  = &Err{705, "another claim is still pending"}
)

// Precondition failures: no mutation happened, retry after funding.
var (
	NothingToClaim   = &Err{801, "nothing to claim"}
	InsufficientGas  = &Err{802, "gas balance too low"}
	BalanceNotEnough = &Err{803, "insufficient balance"}
)

// InvalidState marks an illegal lifecycle transition. It indicates a caller
// bug and is surfaced, never retried.
var InvalidState = &Err{901, "illegal state transition"}
