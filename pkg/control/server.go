package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teslamotors/bluetooth-policy/internal/authentication"
	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

const (
	maxRequestBodyBytes = 512
	apiPrefix           = "/api/1/"
)

var errNoStream = errors.New("notification stream is disabled")

// Response contains a server's response to a client request.
type Response struct {
	Response   interface{} `json:"response"`
	Error      string      `json:"error,omitempty"`
	ErrDetails string      `json:"error_description,omitempty"`
}

// Server exposes a Controller over HTTP.
type Server struct {
	controller Controller
	secret     []byte
	hub        *notify.Hub
	upgrader   websocket.Upgrader
	log        log.Logger
}

// New returns a Server that accepts tokens signed with secret. Websocket clients of /stream are
// added to hub, which may be nil to disable streaming.
func New(controller Controller, secret []byte, hub *notify.Hub) *Server {
	return &Server{
		controller: controller,
		secret:     secret,
		hub:        hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxRequestBodyBytes,
			WriteBufferSize: 4096,
		},
		log: log.Tag("control"),
	}
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	reply := Response{Error: http.StatusText(code)}
	if err != nil {
		reply.ErrDetails = err.Error()
	}
	if code >= http.StatusInternalServerError {
		log.Error("Returning error %s: %s", http.StatusText(code), reply.ErrDetails)
	} else {
		log.Debug("Returning error %s: %s", http.StatusText(code), reply.ErrDetails)
	}
	writeJSON(w, code, &reply)
}

func writeJSONResponse(w http.ResponseWriter, body interface{}) {
	writeJSON(w, http.StatusOK, &Response{Response: body})
}

func writeJSON(w http.ResponseWriter, code int, reply *Response) {
	jsonBytes, err := json.Marshal(reply)
	if err != nil {
		log.Error("Error serializing reply %+v: %s", reply, err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"internal server error\"}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

func (s *Server) authenticate(req *http.Request) error {
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		// Browsers can't set headers on websocket requests.
		token = req.URL.Query().Get("token")
		if token == "" || !strings.HasSuffix(req.URL.Path, "/stream") {
			return fmt.Errorf("client did not provide a bearer token")
		}
	}
	_, err := authentication.VerifyToken(s.secret, authentication.AudienceControl, token)
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.log.Debug("Received %s request for %s", req.Method, req.URL.Path)

	if err := s.authenticate(req); err != nil {
		writeJSONError(w, http.StatusForbidden, err)
		return
	}
	rest, ok := strings.CutPrefix(req.URL.Path, apiPrefix)
	if !ok {
		writeJSONError(w, http.StatusNotFound, nil)
		return
	}
	path := strings.Split(strings.TrimSuffix(rest, "/"), "/")

	switch {
	case len(path) == 1 && path[0] == "devices":
		if s.requireMethod(w, req, http.MethodGet) {
			writeJSONResponse(w, s.controller.Devices())
		}
	case len(path) == 2 && path[0] == "devices":
		if s.requireMethod(w, req, http.MethodGet) {
			s.handleDevice(w, path[1])
		}
	case len(path) == 4 && path[0] == "devices":
		method := http.MethodPost
		if path[3] == "policy" {
			method = http.MethodPut
		}
		if s.requireMethod(w, req, method) {
			s.handleDeviceCommand(w, req, path[1], path[2], path[3])
		}
	case len(path) == 3 && path[0] == "profiles" && path[2] == "active":
		if s.requireMethod(w, req, http.MethodPut) {
			s.handleActive(w, req, path[1])
		}
	case len(path) == 1 && path[0] == "groups":
		if s.requireMethod(w, req, http.MethodGet) {
			writeJSONResponse(w, s.controller.Groups())
		}
	case len(path) == 1 && path[0] == "export":
		if s.requireMethod(w, req, http.MethodGet) {
			s.handleExport(w)
		}
	case len(path) == 1 && path[0] == "stream":
		if s.requireMethod(w, req, http.MethodGet) {
			s.handleStream(w, req)
		}
	default:
		writeJSONError(w, http.StatusNotFound, nil)
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method != method {
		writeJSONError(w, http.StatusMethodNotAllowed, nil)
		return false
	}
	return true
}

func (s *Server) handleDevice(w http.ResponseWriter, address string) {
	device, err := protocol.ParseDevice(address)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	status, ok := s.controller.Device(device)
	if !ok {
		writeJSONError(w, http.StatusNotFound, protocol.ErrUnknownDevice)
		return
	}
	writeJSONResponse(w, status)
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, req *http.Request, address, profileName, command string) {
	device, err := protocol.ParseDevice(address)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	p, err := protocol.ParseProfile(profileName)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	params, err := readParameters(req)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	action, err := ExtractCommand(device, p, command, params)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	s.log.Info("Executing %s on %s/%s", command, device, p)
	s.execute(w, action)
}

func (s *Server) handleActive(w http.ResponseWriter, req *http.Request, profileName string) {
	p, err := protocol.ParseProfile(profileName)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	params, err := readParameters(req)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	action, err := ExtractActive(p, params)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	s.log.Info("Changing active %s device", p)
	s.execute(w, action)
}

func (s *Server) execute(w http.ResponseWriter, action Action) {
	if err := action(s.controller); err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}
	writeJSONResponse(w, true)
}

func (s *Server) handleExport(w http.ResponseWriter) {
	var records strings.Builder
	if err := s.controller.Export(&records); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSONResponse(w, json.RawMessage(records.String()))
}

func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	if s.hub == nil {
		writeJSONError(w, http.StatusNotFound, errNoStream)
		return
	}
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied.
		s.log.Warning("Websocket upgrade failed: %s", err)
		return
	}
	s.hub.AddClient(conn)
	s.log.Info("Stream client %s connected", conn.RemoteAddr())
	defer s.hub.RemoveClient(conn)
	conn.SetReadLimit(maxRequestBodyBytes)
	for {
		// Clients don't send anything; reading processes control frames and detects closure.
		if _, _, err := conn.NextReader(); err != nil {
			s.log.Info("Stream client %s disconnected", conn.RemoteAddr())
			return
		}
	}
}

func readParameters(req *http.Request) (RequestParameters, error) {
	var params RequestParameters
	defer req.Body.Close()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodyBytes+1))
	if err != nil {
		return nil, &APIError{Code: http.StatusBadRequest, Message: "could not read request body"}
	}
	if len(body) > maxRequestBodyBytes {
		return nil, &APIError{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return nil, &APIError{Code: http.StatusBadRequest, Message: "error occurred while parsing request parameters"}
		}
	}
	return params, nil
}
