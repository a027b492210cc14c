// Package giftwrap implements NIP-59 gift wrapping for one-to-one sharing.
//
// A rumor is an unsigned event holding the real content. It is encrypted to
// the recipient under the sender's key and placed in a seal (kind 13) signed
// by the sender. The seal is encrypted again under a single-use ephemeral key
// and placed in a gift wrap (kind 1059) signed by that ephemeral key and
// tagged with the recipient. Seal and gift wrap timestamps are drawn
// uniformly from the two days before now.
//
// Only the seal signature authenticates the sender. The gift wrap signature
// proves nothing about who sent it.
package giftwrap
