package control_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/teslamotors/bluetooth-policy/internal/authentication"
	"github.com/teslamotors/bluetooth-policy/mocks"
	"github.com/teslamotors/bluetooth-policy/pkg/control"
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

const baseURL = "http://btpolicy.test"

var _ = Describe("Client", func() {
	var client *control.Client

	BeforeEach(func() {
		client = control.NewClient(baseURL+"/", secret)
		httpmock.ActivateNonDefault(client.HTTPClient)
		DeferCleanup(httpmock.DeactivateAndReset)
	})

	It("signs requests for the control audience", func() {
		httpmock.RegisterResponder(http.MethodPost, baseURL+"/api/1/devices/"+address+"/a2dp/connect",
			func(r *http.Request) (*http.Response, error) {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				Expect(ok).To(BeTrue())
				_, err := authentication.VerifyToken(secret, authentication.AudienceControl, token)
				Expect(err).NotTo(HaveOccurred())
				return httpmock.NewStringResponse(http.StatusOK, `{"response": true}`), nil
			})
		Expect(client.Connect(context.Background(), device, protocol.ProfileA2DP)).To(Succeed())
		Expect(httpmock.GetTotalCallCount()).To(Equal(1))
	})

	It("returns an APIError with the server's description", func() {
		httpmock.RegisterResponder(http.MethodPost, baseURL+"/api/1/devices/"+address+"/hfp/connect",
			httpmock.NewStringResponder(http.StatusServiceUnavailable,
				`{"response": null, "error": "Service Unavailable", "error_description": "adapter is not on"}`))
		err := client.Connect(context.Background(), device, protocol.ProfileHFP)
		var apiErr *control.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(apiErr.Message).To(Equal("adapter is not on"))
		Expect(apiErr.Temporary()).To(BeTrue())
	})

	It("returns an APIError for non-JSON failures", func() {
		httpmock.RegisterResponder(http.MethodGet, baseURL+"/api/1/groups",
			httpmock.NewStringResponder(http.StatusBadGateway, "<html>bad gateway</html>"))
		_, err := client.Groups(context.Background())
		var apiErr *control.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Error()).To(Equal(http.StatusText(http.StatusBadGateway)))
		Expect(apiErr.Temporary()).To(BeFalse())
	})

	It("sends lowercase policy names", func() {
		httpmock.RegisterResponder(http.MethodPut, baseURL+"/api/1/devices/"+address+"/le_audio/policy",
			func(r *http.Request) (*http.Response, error) {
				var body map[string]string
				Expect(decodeBody(r, &body)).To(Succeed())
				Expect(body).To(Equal(map[string]string{"policy": "allowed"}))
				return httpmock.NewStringResponse(http.StatusOK, `{"response": true}`), nil
			})
		Expect(client.SetConnectionPolicy(context.Background(), device, protocol.ProfileLEAudio, protocol.PolicyAllowed)).To(Succeed())
	})

	It("clears active devices with an empty body", func() {
		httpmock.RegisterResponder(http.MethodPut, baseURL+"/api/1/profiles/a2dp/active",
			func(r *http.Request) (*http.Response, error) {
				var body map[string]string
				Expect(decodeBody(r, &body)).To(Succeed())
				Expect(body).To(BeEmpty())
				return httpmock.NewStringResponse(http.StatusOK, `{"response": true}`), nil
			})
		Expect(client.SetActiveDevice(context.Background(), protocol.ProfileA2DP, nil)).To(Succeed())
	})
})

var _ = Describe("Client and Server", func() {
	var (
		ctrl       *gomock.Controller
		controller *mocks.Controller
		hub        *notify.Hub
		client     *control.Client
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		controller = mocks.NewController(ctrl)
		hub = notify.NewHub(8)
		server := httptest.NewServer(control.New(controller, secret, hub))
		client = control.NewClient(server.URL, secret)
		DeferCleanup(func() {
			server.Close()
			ctrl.Finish()
		})
	})

	It("round-trips device status", func() {
		controller.EXPECT().Device(device).Return(control.DeviceStatus{
			Address: device,
			Name:    "Headset",
			Profiles: map[protocol.Profile]control.ProfileStatus{
				protocol.ProfileHFP: {State: protocol.StateConnecting, Policy: protocol.PolicyAllowed},
			},
		}, true)
		status, err := client.Device(context.Background(), device)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Name).To(Equal("Headset"))
		Expect(status.Profiles).To(HaveKeyWithValue(protocol.ProfileHFP,
			control.ProfileStatus{State: protocol.StateConnecting, Policy: protocol.PolicyAllowed}))
	})

	It("activates a device", func() {
		controller.EXPECT().SetActiveDevice(protocol.ProfileHFP, &device).Return(nil)
		Expect(client.SetActiveDevice(context.Background(), protocol.ProfileHFP, &device)).To(Succeed())
	})

	It("streams notifications", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		received := make(chan notify.Notification, 1)
		done := make(chan error, 1)
		go func() {
			done <- client.Stream(ctx, func(n notify.Notification) { received <- n })
		}()
		Eventually(hub.Clients, time.Second).Should(Equal(1))

		sent := notify.ConnectionStateChanged(device, protocol.ProfileA2DP, protocol.StateConnecting, protocol.StateConnected)
		hub.Broadcast(sent)
		var n notify.Notification
		Eventually(received, time.Second).Should(Receive(&n))
		Expect(n.ID).To(Equal(sent.ID))
		Expect(n.State).To(Equal(protocol.StateConnected))

		cancel()
		Eventually(done, time.Second).Should(Receive(MatchError(context.Canceled)))
		Eventually(hub.Clients, time.Second).Should(Equal(0))
	})
})
