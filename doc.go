// Package bmail is a client for Bmail, a decentralized webmail where message
// metadata lives on an Ethereum contract and encrypted bodies live on IPFS.
//
// Each user holds an RSA key pair. Outgoing messages are sealed with a fresh
// AES-256-GCM key wrapped for the recipient's public key with RSA-OAEP, the
// envelope is pinned to IPFS and its content id is appended to the ledger.
// Reading reverses the pipeline with the private key kept in the local key
// store.
//
// Basic usage:
//
//	cfg, err := config.LoadFile("bmail.toml", lookup)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := bmail.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res := client.Send(ctx, "bob@example.com", "Hello", "World")
//	if !res.Success {
//	    log.Fatal(res.Error)
//	}
//
//	// Wait for a reply
//	msg, err := client.WaitForMessage(ctx, bmail.WithFrom("bob@example.com"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Subject:", msg.Payload.Subject)
package bmail
