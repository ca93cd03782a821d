package statemachine

import (
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

type key struct {
	state protocol.ConnectionState
	event Event
}

type handler func(m *Machine)

// transitions is populated in init because handlers re-enter Handle through timers.
var transitions map[key]handler

func init() {
	transitions = map[key]handler{
		{protocol.StateDisconnected, EventConnect}:            disconnectedConnect,
		{protocol.StateDisconnected, EventDisconnect}:         disconnectedDisconnect,
		{protocol.StateDisconnected, EventStackDisconnected}:  ignore,
		{protocol.StateDisconnected, EventStackConnecting}:    acceptIncoming(protocol.StateConnecting),
		{protocol.StateDisconnected, EventStackConnected}:     acceptIncoming(protocol.StateConnected),
		{protocol.StateDisconnected, EventStackDisconnecting}: ignore,
		{protocol.StateDisconnected, EventConnectTimeout}:     ignore,
		{protocol.StateDisconnected, EventDisconnectTimeout}:  ignore,

		{protocol.StateConnecting, EventConnect}:            ignore,
		{protocol.StateConnecting, EventDisconnect}:         connectingDisconnect,
		{protocol.StateConnecting, EventStackDisconnected}:  connectFailed,
		{protocol.StateConnecting, EventStackConnecting}:    ignore,
		{protocol.StateConnecting, EventStackConnected}:     moveTo(protocol.StateConnected),
		{protocol.StateConnecting, EventStackDisconnecting}: moveTo(protocol.StateDisconnecting),
		{protocol.StateConnecting, EventConnectTimeout}:     connectTimeout,
		{protocol.StateConnecting, EventDisconnectTimeout}:  ignore,

		{protocol.StateConnected, EventConnect}:            ignore,
		{protocol.StateConnected, EventDisconnect}:         connectedDisconnect,
		{protocol.StateConnected, EventStackDisconnected}:  moveTo(protocol.StateDisconnected),
		{protocol.StateConnected, EventStackConnecting}:    ignore,
		{protocol.StateConnected, EventStackConnected}:     ignore,
		{protocol.StateConnected, EventStackDisconnecting}: moveTo(protocol.StateDisconnecting),
		{protocol.StateConnected, EventConnectTimeout}:     ignore,
		{protocol.StateConnected, EventDisconnectTimeout}:  ignore,

		{protocol.StateDisconnecting, EventConnect}:            deferConnect,
		{protocol.StateDisconnecting, EventDisconnect}:         ignore,
		{protocol.StateDisconnecting, EventStackDisconnected}:  moveTo(protocol.StateDisconnected),
		{protocol.StateDisconnecting, EventStackConnecting}:    acceptIncoming(protocol.StateConnecting),
		{protocol.StateDisconnecting, EventStackConnected}:     acceptIncoming(protocol.StateConnected),
		{protocol.StateDisconnecting, EventStackDisconnecting}: ignore,
		{protocol.StateDisconnecting, EventConnectTimeout}:     ignore,
		{protocol.StateDisconnecting, EventDisconnectTimeout}:  disconnectTimeout,
	}
}

// ignore marks events that are logged and dropped.
var ignore handler

func moveTo(next protocol.ConnectionState) handler {
	return func(m *Machine) {
		m.transitionTo(next)
	}
}

func disconnectedConnect(m *Machine) {
	if !m.okToConnect() {
		m.log.Warning("Outgoing connection rejected")
		return
	}
	if !m.native.Connect(m.device) {
		m.log.Warning("Native connect was not attempted")
		return
	}
	m.transitionTo(protocol.StateConnecting)
}

func disconnectedDisconnect(m *Machine) {
	if !m.native.Disconnect(m.device) {
		m.log.Debug("Native disconnect was not attempted")
	}
}

// acceptIncoming handles a connection the stack reports without a matching local request.
func acceptIncoming(next protocol.ConnectionState) handler {
	return func(m *Machine) {
		if m.okToConnect() {
			m.transitionTo(next)
			return
		}
		m.log.Warning("Incoming connection rejected")
		m.native.Disconnect(m.device)
	}
}

func connectingDisconnect(m *Machine) {
	m.native.Disconnect(m.device)
	m.transitionTo(protocol.StateDisconnected)
}

func connectFailed(m *Machine) {
	m.log.Warning("Connection failed")
	m.native.AddToAcceptList(m.device)
	m.transitionTo(protocol.StateDisconnected)
}

func connectTimeout(m *Machine) {
	m.log.Warning("Connection timeout")
	m.native.Disconnect(m.device)
	m.native.AddToAcceptList(m.device)
	m.transitionTo(protocol.StateDisconnected)
}

func connectedDisconnect(m *Machine) {
	if !m.native.Disconnect(m.device) {
		m.log.Warning("Native disconnect was not attempted")
		m.transitionTo(protocol.StateDisconnected)
		return
	}
	m.transitionTo(protocol.StateDisconnecting)
}

func deferConnect(m *Machine) {
	m.log.Debug("Deferring connect until disconnect completes")
	m.deferred = true
}

func disconnectTimeout(m *Machine) {
	m.log.Warning("Disconnection timeout")
	m.transitionTo(protocol.StateDisconnected)
}
