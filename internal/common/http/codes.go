package http

const (
	CodeUnknown              = "UNKNOWN"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeUserIDRequired       = "USER_ID_REQUIRED"
	CodeInvalidUserIDFormat  = "INVALID_USER_ID_FORMAT"
	CodeMissingAuthorization = "MISSING_AUTHORIZATION"
	CodeInvalidToken         = "INVALID_TOKEN"
)
