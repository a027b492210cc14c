// Package nostrdiary provides a Go client SDK for a Nostr-backed personal
// diary.
//
// Entries are signed as kind 30027 events with a BIP-340 Schnorr key and kept
// in a local SQLite store. Sharing an entry uses the NIP-59 gift wrap scheme:
// the entry becomes an unsigned rumor, sealed with NIP-44 v2 encryption and
// the author's key, then wrapped again under a single-use ephemeral key with
// a randomized timestamp. Only the gift wrap is sent to relays.
//
// Basic usage:
//
//	client, err := nostrdiary.New(
//	    nostrdiary.WithKeyFile("identity.json", passphrase),
//	    nostrdiary.WithDatabase("diary.db"),
//	    nostrdiary.WithRelays("wss://relay.damus.io"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Write today's entry
//	entry, err := client.CreateEntry(ctx, "今天天气很好", "晴", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Share it with a friend
//	share, err := client.ShareStoredEntry(ctx, entry.NostrID, friendPubkey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	status, err := client.Publish(ctx, share.GiftWrapEvent, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(status)
//
// The sender of a received entry is the seal signer. The gift wrap's own
// signature only shows the outer event is intact and says nothing about who
// sent it.
package nostrdiary
