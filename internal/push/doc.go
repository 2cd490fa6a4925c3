// Package push serves ticks to browser clients over websocket.
//
// Each socket is a session and a hub consumer with a uuid id. Clients send
//
//	{"action":"subscribe","instruments":[{"segment":"NSE_EQ","security_id":"2885"}]}
//	{"action":"unsubscribe"}
//
// and receive welcome/subscribed/unsubscribed/error replies plus tick frames.
// Each session has a bounded outbound queue; a slow browser loses ticks
// instead of stalling the router. Closing the socket unregisters the consumer.
package push
