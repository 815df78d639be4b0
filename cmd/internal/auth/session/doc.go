// Package session issues and verifies huddle identity tokens.
//
// Tokens are PASETO v4.public (Ed25519) carrying the user id ("uid") and
// username ("usr") next to the registered iss/iat/nbf/exp claims. The HTTP
// auth endpoints issue them; the realtime gateway verifies them at handshake.
package session
