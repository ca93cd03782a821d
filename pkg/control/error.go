package control

import "net/http"

// APIError is an error with an HTTP status code. The server writes it as the response status and
// the client returns it for non-2xx responses.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

// Temporary returns true if the request might succeed when retried.
func (e *APIError) Temporary() bool {
	switch e.Code {
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusRequestTimeout, http.StatusMisdirectedRequest:
		return true
	}
	return false
}
