package control

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// ErrUnknownCommand indicates the path does not name a supported device command.
var ErrUnknownCommand = &APIError{Code: http.StatusNotFound, Message: "unknown command"}

// RequestParameters allows simple type checks on a JSON request body.
type RequestParameters map[string]interface{}

// Action applies a parsed command to a Controller.
type Action func(Controller) error

// ExtractCommand parses a per-device command.
func ExtractCommand(device protocol.Device, p protocol.Profile, command string, params RequestParameters) (Action, error) {
	switch command {
	case "connect":
		return func(c Controller) error { return c.Connect(device, p) }, nil
	case "disconnect":
		return func(c Controller) error { return c.Disconnect(device, p) }, nil
	case "policy":
		name, err := params.getString("policy", true)
		if err != nil {
			return nil, err
		}
		policy, err := protocol.ParseConnectionPolicy(name)
		if err != nil {
			return nil, invalidParamError("policy")
		}
		return func(c Controller) error { return c.SetConnectionPolicy(device, p, policy) }, nil
	}
	return nil, ErrUnknownCommand
}

// ExtractActive parses a request to change the active device of p. A missing or empty device
// clears the active devices.
func ExtractActive(p protocol.Profile, params RequestParameters) (Action, error) {
	address, err := params.getString("device", false)
	if err != nil {
		return nil, err
	}
	if address == "" {
		return func(c Controller) error { return c.SetActiveDevice(p, nil) }, nil
	}
	device, err := protocol.ParseDevice(address)
	if err != nil {
		return nil, invalidParamError("device")
	}
	return func(c Controller) error { return c.SetActiveDevice(p, &device) }, nil
}

func (p RequestParameters) getString(key string, required bool) (string, error) {
	value, exists := p[key]
	if exists {
		if strValue, isString := value.(string); isString {
			return strValue, nil
		}
		return "", invalidParamError(key)
	}
	if !required {
		return "", nil
	}
	return "", missingParamError(key)
}

func missingParamError(key string) error {
	return &APIError{Code: http.StatusBadRequest, Message: fmt.Sprintf("missing %s param", key)}
}

func invalidParamError(key string) error {
	return &APIError{Code: http.StatusBadRequest, Message: fmt.Sprintf("invalid %s param", key)}
}

// statusFor maps a Controller error to an HTTP status code.
func statusFor(err error) int {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, protocol.ErrInvalidAddress), errors.Is(err, protocol.ErrUnknownProfile):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrNoActiveSlots):
		return http.StatusBadRequest
	case protocol.Temporary(err):
		return http.StatusServiceUnavailable
	case protocol.IsRejection(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
