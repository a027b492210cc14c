// Package event implements Nostr events: the NIP-01 canonical serialization
// that defines an event id, BIP-340 signing over that id, and verification.
//
// The canonical form is the JSON array [0,pubkey,created_at,kind,tags,content]
// with no whitespace. Strings escape only the quote, the backslash and
// control characters; non-ASCII text is written as raw UTF-8. The same
// escaping is used for the wire JSON produced by [Event.MarshalJSON].
package event
