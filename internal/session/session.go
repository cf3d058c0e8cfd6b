// Package session holds the client-side chat session: connection status,
// identity, room membership, the message log and typing presence. It also
// persists the remembered room and nickname used to rejoin after a reconnect.
package session
