package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes from the
// responder and embedding endpoints.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
