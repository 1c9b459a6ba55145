package types

// API error codes. The prefix names the resource, the suffix the HTTP status.
const (
	CodeAuthBadRequest     = "AUTH_400"
	CodeAuthUnauthorized   = "AUTH_401"
	CodeBridgeBadRequest   = "BRIDGE_400"
	CodeBridgeConflict     = "BRIDGE_409"
	CodeBridgeUnavailable  = "BRIDGE_503"
	CodeBridgeInternal     = "BRIDGE_500"
	CodeDeviceBadRequest   = "DEVICE_400"
	CodeDeviceNotFound     = "DEVICE_404"
	CodeMachineNotFound    = "MACHINE_404"
	CodeMachineInternal    = "MACHINE_500"
	CodeSessionUnavailable = "SESSION_503"
	CodeSessionInternal    = "SESSION_500"
	CodeSystemConflict     = "SYSTEM_409"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
