package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/teslamotors/bluetooth-policy/mocks"
	"github.com/teslamotors/bluetooth-policy/pkg/control"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var (
	secret  = []byte("control-secret-control-secret-00")
	headset = protocol.MustParseDevice("00:11:22:33:44:01")
)

func newShell(t *testing.T) (*mocks.Controller, *control.Client, *bytes.Buffer) {
	t.Helper()
	ctrl := gomock.NewController(t)
	controller := mocks.NewController(ctrl)
	server := httptest.NewServer(control.New(controller, secret, nil))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	previous := out
	out = &buf
	t.Cleanup(func() { out = previous })
	return controller, control.NewClient(server.URL, secret), &buf
}

func TestArgumentCount(t *testing.T) {
	_, client, buf := newShell(t)
	testCases := [][]string{
		{"connect", "00:11:22:33:44:01"},
		{"connect", "00:11:22:33:44:01", "a2dp", "extra"},
		{"policy", "00:11:22:33:44:01", "a2dp"},
		{"active"},
	}
	for _, args := range testCases {
		buf.Reset()
		if err := execute(context.Background(), client, args); !errors.Is(err, ErrCommandLineArgs) {
			t.Errorf("%v: expected ErrCommandLineArgs, got %v", args, err)
		}
		if !strings.HasPrefix(buf.String(), "Usage: "+args[0]) {
			t.Errorf("%v: expected usage, got %q", args, buf.String())
		}
	}
	if err := execute(context.Background(), client, []string{"reboot"}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestCommands(t *testing.T) {
	controller, client, _ := newShell(t)
	gomock.InOrder(
		controller.EXPECT().Connect(headset, protocol.ProfileHFP).Return(nil),
		controller.EXPECT().SetConnectionPolicy(headset, protocol.ProfileA2DP, protocol.PolicyForbidden).Return(nil),
		controller.EXPECT().SetActiveDevice(protocol.ProfileA2DP, &headset).Return(nil),
		controller.EXPECT().SetActiveDevice(protocol.ProfileA2DP, gomock.Nil()).Return(nil),
	)
	for _, args := range [][]string{
		{"connect", "00:11:22:33:44:01", "hfp"},
		{"policy", "00-11-22-33-44-01", "a2dp", "forbid"},
		{"active", "a2dp", "00:11:22:33:44:01"},
		{"active", "a2dp"},
	} {
		if err := execute(context.Background(), client, args); err != nil {
			t.Errorf("%v: %s", args, err)
		}
	}
}

func TestInvalidArguments(t *testing.T) {
	_, client, _ := newShell(t)
	if err := execute(context.Background(), client, []string{"connect", "headset", "hfp"}); !errors.Is(err, protocol.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	if err := execute(context.Background(), client, []string{"connect", "00:11:22:33:44:01", "fax"}); !errors.Is(err, protocol.ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got %v", err)
	}
	if err := execute(context.Background(), client, []string{"policy", "00:11:22:33:44:01", "hfp", "maybe"}); !errors.Is(err, ErrCommandLineArgs) {
		t.Errorf("expected ErrCommandLineArgs, got %v", err)
	}
}

func TestRejectionsAreReported(t *testing.T) {
	controller, client, _ := newShell(t)
	controller.EXPECT().Disconnect(headset, protocol.ProfileHFP).Return(protocol.ErrNotConnected)
	err := execute(context.Background(), client, []string{"disconnect", "00:11:22:33:44:01", "hfp"})
	var apiErr *control.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != protocol.ErrNotConnected.Error() {
		t.Errorf("expected rejection to be reported, got %v", err)
	}
}

func TestListings(t *testing.T) {
	controller, client, buf := newShell(t)
	controller.EXPECT().Devices().Return([]control.DeviceStatus{{
		Address: headset,
		Name:    "Headset",
		Type:    "Classic",
		Bond:    "Bonded",
		Profiles: map[protocol.Profile]control.ProfileStatus{
			protocol.ProfileHFP:  {State: protocol.StateConnected, Policy: protocol.PolicyAllowed, Active: true},
			protocol.ProfileA2DP: {State: protocol.StateDisconnected, Policy: protocol.PolicyForbidden},
		},
	}})
	controller.EXPECT().Groups().Return([]orchestrator.CoordinatedSet{{GroupID: 7, Desired: 1, Members: []protocol.Device{headset}}})

	if err := execute(context.Background(), client, []string{"devices"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "a2dp=Disconnected/Forbidden hfp=Connected/Allowed*") {
		t.Errorf("unexpected device listing:\n%s", buf.String())
	}
	buf.Reset()
	if err := execute(context.Background(), client, []string{"groups"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || strings.Join(strings.Fields(lines[1]), " ") != "7 1 true 00:11:22:33:44:01" {
		t.Errorf("unexpected group listing:\n%s", buf.String())
	}
}
