package control_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/teslamotors/bluetooth-policy/internal/authentication"
	"github.com/teslamotors/bluetooth-policy/mocks"
	"github.com/teslamotors/bluetooth-policy/pkg/control"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var (
	secret  = []byte("control-secret-control-secret-00")
	address = "00:11:22:33:44:55"
	device  = protocol.MustParseDevice(address)
)

type reply struct {
	Response   json.RawMessage `json:"response"`
	Error      string          `json:"error"`
	ErrDetails string          `json:"error_description"`
}

func bearer(audience string) string {
	token, err := authentication.SignToken(secret, audience, time.Minute, nil)
	Expect(err).NotTo(HaveOccurred())
	return "Bearer " + token
}

func decode(rr *httptest.ResponseRecorder) reply {
	var r reply
	Expect(json.Unmarshal(rr.Body.Bytes(), &r)).To(Succeed())
	return r
}

var _ = Describe("Server", func() {
	var (
		ctrl       *gomock.Controller
		controller *mocks.Controller
		server     *control.Server
	)

	sendRequest := func(method, path, token string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		rr := httptest.NewRecorder()
		server.ServeHTTP(rr, req)
		return rr
	}

	authorized := func(method, path string, body []byte) *httptest.ResponseRecorder {
		return sendRequest(method, path, bearer(authentication.AudienceControl), body)
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		controller = mocks.NewController(ctrl)
		server = control.New(controller, secret, nil)
		DeferCleanup(ctrl.Finish)
	})

	Context("authentication", func() {
		It("rejects requests without a token", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices", "", nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
		})

		It("rejects tokens for another audience", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices", bearer(authentication.AudienceWebhook), nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
		})

		It("rejects tokens signed with another secret", func() {
			token, err := authentication.SignToken([]byte("another-secret"), authentication.AudienceControl, time.Minute, nil)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/devices", "Bearer "+token, nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
		})

		It("only accepts query tokens for the stream", func() {
			token, err := authentication.SignToken(secret, authentication.AudienceControl, time.Minute, nil)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/devices?token="+token, "", nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
		})
	})

	Context("devices", func() {
		It("lists devices", func() {
			controller.EXPECT().Devices().Return([]control.DeviceStatus{{
				Address: device,
				Type:    "Classic",
				Bond:    "Bonded",
				Profiles: map[protocol.Profile]control.ProfileStatus{
					protocol.ProfileA2DP: {State: protocol.StateConnected, Policy: protocol.PolicyAllowed, Active: true},
				},
			}})
			rr := authorized(http.MethodGet, "/api/1/devices", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Header().Get("Content-Type")).To(Equal("application/json"))

			var devices []control.DeviceStatus
			Expect(json.Unmarshal(decode(rr).Response, &devices)).To(Succeed())
			Expect(devices).To(HaveLen(1))
			Expect(devices[0].Address).To(Equal(device))
			Expect(devices[0].Profiles[protocol.ProfileA2DP].Active).To(BeTrue())
			Expect(devices[0].Profiles[protocol.ProfileA2DP].State).To(Equal(protocol.StateConnected))
		})

		It("looks up a device by a lowercase address", func() {
			controller.EXPECT().Device(device).Return(control.DeviceStatus{Address: device}, true)
			rr := authorized(http.MethodGet, "/api/1/devices/"+strings.ToLower(address), nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("returns not found for unknown devices", func() {
			controller.EXPECT().Device(device).Return(control.DeviceStatus{}, false)
			rr := authorized(http.MethodGet, "/api/1/devices/"+address, nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})

		It("rejects malformed addresses", func() {
			rr := authorized(http.MethodGet, "/api/1/devices/not-an-address", nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects the wrong method", func() {
			rr := authorized(http.MethodPost, "/api/1/devices", nil)
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Context("device commands", func() {
		It("connects", func() {
			controller.EXPECT().Connect(device, protocol.ProfileA2DP).Return(nil)
			rr := authorized(http.MethodPost, "/api/1/devices/"+address+"/a2dp/connect", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(string(decode(rr).Response)).To(Equal("true"))
		})

		It("disconnects", func() {
			controller.EXPECT().Disconnect(device, protocol.ProfileHFP).Return(nil)
			rr := authorized(http.MethodPost, "/api/1/devices/"+address+"/hfp/disconnect", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("maps permanent rejections to conflict", func() {
			controller.EXPECT().Connect(device, protocol.ProfileA2DP).Return(protocol.ErrPolicyForbidden)
			rr := authorized(http.MethodPost, "/api/1/devices/"+address+"/a2dp/connect", nil)
			Expect(rr.Code).To(Equal(http.StatusConflict))
			Expect(decode(rr).ErrDetails).To(Equal(protocol.ErrPolicyForbidden.Error()))
		})

		It("maps temporary rejections to service unavailable", func() {
			controller.EXPECT().Connect(device, protocol.ProfileA2DP).Return(protocol.ErrAdapterNotReady)
			rr := authorized(http.MethodPost, "/api/1/devices/"+address+"/a2dp/connect", nil)
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("rejects unknown profiles", func() {
			rr := authorized(http.MethodPost, "/api/1/devices/"+address+"/fax/connect", nil)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects unknown commands", func() {
			rr := authorized(http.MethodPost, "/api/1/devices/"+address+"/a2dp/reboot", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})

		It("requires POST", func() {
			rr := authorized(http.MethodGet, "/api/1/devices/"+address+"/a2dp/connect", nil)
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("sets the connection policy", func() {
			controller.EXPECT().SetConnectionPolicy(device, protocol.ProfileLEAudio, protocol.PolicyForbidden).Return(nil)
			rr := authorized(http.MethodPut, "/api/1/devices/"+address+"/le_audio/policy", []byte(`{"policy": "forbidden"}`))
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("requires a policy", func() {
			rr := authorized(http.MethodPut, "/api/1/devices/"+address+"/a2dp/policy", []byte(`{}`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rr).ErrDetails).To(Equal("missing policy param"))
		})

		It("rejects a policy of the wrong type", func() {
			rr := authorized(http.MethodPut, "/api/1/devices/"+address+"/a2dp/policy", []byte(`{"policy": 1}`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rr).ErrDetails).To(Equal("invalid policy param"))
		})

		It("rejects malformed bodies", func() {
			rr := authorized(http.MethodPut, "/api/1/devices/"+address+"/a2dp/policy", []byte(`{"policy"`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects oversized bodies", func() {
			body := []byte(`{"policy": "` + strings.Repeat("a", 1024) + `"}`)
			rr := authorized(http.MethodPut, "/api/1/devices/"+address+"/a2dp/policy", body)
			Expect(rr.Code).To(Equal(http.StatusRequestEntityTooLarge))
		})
	})

	Context("active devices", func() {
		It("activates a device", func() {
			controller.EXPECT().SetActiveDevice(protocol.ProfileHearingAid, &device).Return(nil)
			rr := authorized(http.MethodPut, "/api/1/profiles/hearing_aid/active", []byte(`{"device": "`+address+`"}`))
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("clears the active devices", func() {
			controller.EXPECT().SetActiveDevice(protocol.ProfileA2DP, gomock.Nil()).Return(nil)
			rr := authorized(http.MethodPut, "/api/1/profiles/a2dp/active", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("reports devices that aren't connected", func() {
			controller.EXPECT().SetActiveDevice(protocol.ProfileA2DP, &device).Return(protocol.ErrNotConnected)
			rr := authorized(http.MethodPut, "/api/1/profiles/a2dp/active", []byte(`{"device": "`+address+`"}`))
			Expect(rr.Code).To(Equal(http.StatusConflict))
		})

		It("reports profiles without active devices", func() {
			controller.EXPECT().SetActiveDevice(protocol.ProfileCSIPSetCoordinator, &device).Return(protocol.ErrNoActiveSlots)
			rr := authorized(http.MethodPut, "/api/1/profiles/csip/active", []byte(`{"device": "`+address+`"}`))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("database", func() {
		It("lists coordinated sets", func() {
			controller.EXPECT().Groups().Return([]orchestrator.CoordinatedSet{{GroupID: 3, Desired: 2, Members: []protocol.Device{device}}})
			rr := authorized(http.MethodGet, "/api/1/groups", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			var groups []orchestrator.CoordinatedSet
			Expect(json.Unmarshal(decode(rr).Response, &groups)).To(Succeed())
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Complete()).To(BeFalse())
		})

		It("exports the policy database", func() {
			controller.EXPECT().Export(gomock.Any()).DoAndReturn(func(w io.Writer) error {
				_, err := io.WriteString(w, `{"devices": []}`)
				return err
			})
			rr := authorized(http.MethodGet, "/api/1/export", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(string(decode(rr).Response)).To(Equal(`{"devices":[]}`))
		})
	})

	It("returns not found for unknown paths", func() {
		Expect(authorized(http.MethodGet, "/api/1/vehicles", nil).Code).To(Equal(http.StatusNotFound))
		Expect(authorized(http.MethodGet, "/api/2/devices", nil).Code).To(Equal(http.StatusNotFound))
	})

	It("returns not found for the stream without a hub", func() {
		rr := authorized(http.MethodGet, "/api/1/stream", nil)
		Expect(rr.Code).To(Equal(http.StatusNotFound))
	})
})
