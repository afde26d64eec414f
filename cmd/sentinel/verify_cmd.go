package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/sentinel-audit/sentinel/pkg/crypto"
	"github.com/sentinel-audit/sentinel/pkg/verifier"
)

// runVerifyCmd implements `sentinel verify` per spec §4.7/§6: it replays an
// audit log file offline, validates the hash chain and every checkpoint
// signature, and — for encrypted logs — unwraps the DEK first. It performs
// no network I/O and never mutates the log.
//
// Exit codes: 0 = verified, 1 = runtime error (bad flags/keys), 2 = verification failure.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		logPath       string
		pubKeyPath    string
		recipientPriv string
	)
	cmd.StringVar(&logPath, "log", "", "Path to the audit log JSONL file (REQUIRED)")
	cmd.StringVar(&pubKeyPath, "pubkey-b64-path", "", "Path to the Ed25519 verifying key (REQUIRED)")
	cmd.StringVar(&recipientPriv, "decrypt-recipient-privkey-b64-path", "", "Path to the X25519 recipient private key (required only for encrypted logs)")

	if err := cmd.Parse(args); err != nil {
		return 1
	}

	if logPath == "" || pubKeyPath == "" {
		fmt.Fprintln(stderr, "Error: --log and --pubkey-b64-path are required")
		return 1
	}

	pubVerifier, err := crypto.LoadVerifyKeyB64(pubKeyPath)
	if err != nil {
		fmt.Fprintf(stderr, "%sFAIL%s bad verifying key: %v\n", ColorBold+ColorRed, ColorReset, err)
		return 1
	}

	var recipientPrivKey *[32]byte
	if recipientPriv != "" {
		k, err := crypto.LoadRecipientPrivateKeyB64(recipientPriv)
		if err != nil {
			fmt.Fprintf(stderr, "%sFAIL%s bad recipient private key: %v\n", ColorBold+ColorRed, ColorReset, err)
			return 1
		}
		recipientPrivKey = &k
	}

	report, err := verifier.VerifyFile(logPath, pubVerifier.PublicKeyBytes(), recipientPrivKey)
	if err != nil {
		if ve, ok := err.(*verifier.VerifyError); ok {
			fmt.Fprintf(stderr, "%sFAIL%s line %d: %v\n", ColorBold+ColorRed, ColorReset, ve.Line, ve.Err)
		} else {
			fmt.Fprintf(stderr, "%sFAIL%s %v\n", ColorBold+ColorRed, ColorReset, err)
		}
		return 2
	}

	mode := "plaintext"
	if report.Encrypted {
		mode = "encrypted"
	}
	fmt.Fprintf(stdout, "%sOK%s %s verified: run_id=%s events=%d checkpoints=%d last_event_id=%d (%s)\n",
		ColorBold+ColorGreen, ColorReset, logPath, report.RunID, report.EventsVerified,
		report.CheckpointsVerified, report.LastEventID, mode)
	return 0
}
