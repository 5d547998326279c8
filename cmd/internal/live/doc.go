// Package live pushes scan events to staff dashboards over WebSocket.
//
// A dashboard subscribes to one outlet at GET /v1/live/outlets/{outlet} using
// the "loyalty.scans.v1" subprotocol. The server sends hello.ack on connect,
// then one "redemption" envelope per voucher redeemed at that outlet. Clients
// may send "ping" and receive "pong"; any other inbound frame gets an error
// envelope.
//
// Delivery is best effort: a slow client's queue overflows and events are
// dropped for that client only.
package live
