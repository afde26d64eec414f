package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sentinel-audit/sentinel/pkg/crypto"
)

// runKeygenCmd implements `sentinel keygen`: generates a fresh Ed25519
// checkpoint-signing keypair and writes the seed and public key as the
// base64-plus-newline wire format described in spec §6.
//
// Exit codes: 0 = written, 2 = flag/IO error.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var outPrefix string
	cmd.StringVar(&outPrefix, "out-prefix", "sentinel_signing", "Path prefix for the generated key files")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	signer, err := crypto.NewEd25519Signer()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate signing key: %v\n", err)
		return 2
	}

	seedPath := outPrefix + ".seed.b64"
	pubPath := outPrefix + ".pub.b64"

	if err := os.WriteFile(seedPath, []byte(signer.SeedB64()+"\n"), 0600); err != nil {
		fmt.Fprintf(stderr, "Error: write %s: %v\n", seedPath, err)
		return 2
	}
	if err := os.WriteFile(pubPath, []byte(signer.PublicKeyB64()+"\n"), 0644); err != nil {
		fmt.Fprintf(stderr, "Error: write %s: %v\n", pubPath, err)
		return 2
	}

	fmt.Fprintf(stdout, "%sSigning keypair generated%s\n", ColorBold+ColorGreen, ColorReset)
	fmt.Fprintf(stdout, "  seed (keep secret): %s\n", seedPath)
	fmt.Fprintf(stdout, "  public (for verify): %s\n", pubPath)
	fmt.Fprintf(stdout, "  key_id: %s\n", signer.KeyID())
	return 0
}
