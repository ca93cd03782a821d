package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslamotors/bluetooth-policy/internal/authentication"
	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

const (
	MaxResponseLength = 1 << 20
	tokenLifetime     = time.Minute
)

// Client sends requests to a Server.
type Client struct {
	BaseURL    string
	Secret     []byte
	HTTPClient *http.Client
}

func NewClient(baseURL string, secret []byte) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) token() (string, error) {
	return authentication.SignToken(c.Secret, authentication.AudienceControl, tokenLifetime, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	target := c.BaseURL + apiPrefix + endpoint
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}
	token, err := c.token()
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	log.Debug("Requesting %s %s...", method, target)

	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", endpoint, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(io.LimitReader(response.Body, MaxResponseLength))
	if err != nil {
		return err
	}

	var reply struct {
		Response   json.RawMessage `json:"response"`
		Error      string          `json:"error"`
		ErrDetails string          `json:"error_description"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		if response.StatusCode != http.StatusOK {
			return &APIError{Code: response.StatusCode}
		}
		return fmt.Errorf("malformed response from %s: %w", endpoint, err)
	}
	if response.StatusCode != http.StatusOK {
		message := reply.ErrDetails
		if message == "" {
			message = reply.Error
		}
		return &APIError{Code: response.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(reply.Response, out)
}

func devicePath(device protocol.Device, p protocol.Profile, command string) string {
	return fmt.Sprintf("devices/%s/%s/%s", device, p, command)
}

func (c *Client) Devices(ctx context.Context) ([]DeviceStatus, error) {
	var devices []DeviceStatus
	err := c.do(ctx, http.MethodGet, "devices", nil, &devices)
	return devices, err
}

func (c *Client) Device(ctx context.Context, device protocol.Device) (*DeviceStatus, error) {
	var status DeviceStatus
	if err := c.do(ctx, http.MethodGet, "devices/"+device.String(), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Connect(ctx context.Context, device protocol.Device, p protocol.Profile) error {
	return c.do(ctx, http.MethodPost, devicePath(device, p, "connect"), nil, nil)
}

func (c *Client) Disconnect(ctx context.Context, device protocol.Device, p protocol.Profile) error {
	return c.do(ctx, http.MethodPost, devicePath(device, p, "disconnect"), nil, nil)
}

func (c *Client) SetConnectionPolicy(ctx context.Context, device protocol.Device, p protocol.Profile, policy protocol.ConnectionPolicy) error {
	body := map[string]string{"policy": strings.ToLower(policy.String())}
	return c.do(ctx, http.MethodPut, devicePath(device, p, "policy"), body, nil)
}

// SetActiveDevice makes device the active device of p. A nil device clears the active devices.
func (c *Client) SetActiveDevice(ctx context.Context, p protocol.Profile, device *protocol.Device) error {
	body := map[string]string{}
	if device != nil {
		body["device"] = device.String()
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("profiles/%s/active", p), body, nil)
}

func (c *Client) Groups(ctx context.Context) ([]orchestrator.CoordinatedSet, error) {
	var groups []orchestrator.CoordinatedSet
	err := c.do(ctx, http.MethodGet, "groups", nil, &groups)
	return groups, err
}

// Export returns the policy database dump.
func (c *Client) Export(ctx context.Context) (json.RawMessage, error) {
	var dump json.RawMessage
	err := c.do(ctx, http.MethodGet, "export", nil, &dump)
	return dump, err
}

// Stream calls fn for every notification the server publishes until ctx is cancelled or the
// connection drops.
func (c *Client) Stream(ctx context.Context, fn func(notify.Notification)) error {
	u, err := url.Parse(c.BaseURL + apiPrefix + "stream")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	token, err := c.token()
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("error opening stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		var n notify.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(n)
	}
}
