package errors

const (
	// CodeValidation is returned for every client-caused capture failure.
	CodeValidation = "validation"
	// CodeServerError is returned when a collaborator (store, transport) fails.
	CodeServerError = "server_error"
)

// ErrorResponse is the error response body for capture errors.
// Item echoes the offending raw event for per-event failures.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Item    interface{} `json:"item,omitempty"`
}

// SuccessResponse is the body returned once a batch has been routed.
type SuccessResponse struct {
	Status int `json:"status"`
}
