/*
Package control implements a REST API for inspecting and steering the policy daemon.

	GET  /api/1/devices                                  every known device with per-profile state
	GET  /api/1/devices/{addr}                           one device
	POST /api/1/devices/{addr}/{profile}/connect         request a connection
	POST /api/1/devices/{addr}/{profile}/disconnect      request a disconnection
	PUT  /api/1/devices/{addr}/{profile}/policy          {"policy": "allowed"|"forbidden"|"unknown"}
	PUT  /api/1/profiles/{profile}/active                {"device": "{addr}"}, or {} to clear
	GET  /api/1/groups                                   coordinated sets
	GET  /api/1/export                                   policy database dump
	GET  /api/1/stream                                   websocket stream of notifications

Every request carries an HS256 bearer token for the control audience.
*/
package control
