// Package server is the connection-oriented core of the chat relay.
//
// Each websocket connection is a Client owned by the Hub. A Client starts
// Unauthenticated and must send an auth frame; on success its identity is
// recorded in the Registry and the Relay accepts message, typing and
// mark_seen frames from it. Messages are authorised against the
// relationship oracle, persisted, delivered to a recipient connected to
// this instance and published on the fanout bus. The FanoutBridge feeds
// events published by other instances back into the Relay.
package server
