package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sentinel-audit/sentinel/pkg/crypto"
)

// runRecipientKeygenCmd implements `sentinel recipient-keygen`: generates a
// fresh X25519 keypair a log-writer can encrypt a run's DEK to, per spec §6.
//
// Exit codes: 0 = written, 2 = flag/IO error.
func runRecipientKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("recipient-keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var outPrefix string
	cmd.StringVar(&outPrefix, "out-prefix", "sentinel_recipient", "Path prefix for the generated key files")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	kp, err := crypto.GenerateRecipientKeyPair()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate recipient key: %v\n", err)
		return 2
	}

	privPath := outPrefix + ".priv.b64"
	pubPath := outPrefix + ".pub.b64"

	privB64 := base64.StdEncoding.EncodeToString(kp.Priv[:])
	pubB64 := base64.StdEncoding.EncodeToString(kp.Pub[:])

	if err := os.WriteFile(privPath, []byte(privB64+"\n"), 0600); err != nil {
		fmt.Fprintf(stderr, "Error: write %s: %v\n", privPath, err)
		return 2
	}
	if err := os.WriteFile(pubPath, []byte(pubB64+"\n"), 0644); err != nil {
		fmt.Fprintf(stderr, "Error: write %s: %v\n", pubPath, err)
		return 2
	}

	fmt.Fprintf(stdout, "%sRecipient keypair generated%s\n", ColorBold+ColorGreen, ColorReset)
	fmt.Fprintf(stdout, "  private (keep secret, for decrypt): %s\n", privPath)
	fmt.Fprintf(stdout, "  public (for --encrypt-recipient-pubkey-b64-path): %s\n", pubPath)
	fmt.Fprintf(stdout, "  key_id: %s\n", crypto.RecipientKeyID(kp.Pub[:]))
	return 0
}
