package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-audit/sentinel/pkg/audit"
	"github.com/sentinel-audit/sentinel/pkg/broadcaster"
	"github.com/sentinel-audit/sentinel/pkg/config"
	"github.com/sentinel-audit/sentinel/pkg/crypto"
	"github.com/sentinel-audit/sentinel/pkg/mcplog"
	"github.com/sentinel-audit/sentinel/pkg/redact"
	"github.com/sentinel-audit/sentinel/pkg/tap"
)

// queueDepth is the bounded capacity of every inter-stage channel in the
// pipeline (§5): raw-tap, tap-event, and log queues are all sized alike.
const queueDepth = 1000

// runRunCmd implements `sentinel run`: spawns the child MCP server named by
// the trailing argv, forwards stdio unchanged in both directions, and taps
// every line through sequencer -> parser -> [redactor] -> sink -> broadcaster.
//
// Usage:
//
//	sentinel run [flags] -- <child command> [args...]
//
// Exit codes: 0 = clean shutdown, 1 = fatal runtime error.
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		auditLogPath    string
		signingKeyPath  string
		recipientPath   string
		checkpointEvery int
	)
	cmd.StringVar(&auditLogPath, "audit-log", "sentinel_audit.jsonl", "Path to write the tamper-evident audit log")
	cmd.StringVar(&signingKeyPath, "signing-key-b64-path", "", "Path to an Ed25519 signing seed (enables checkpoints)")
	cmd.StringVar(&recipientPath, "encrypt-recipient-pubkey-b64-path", "", "Path to an X25519 recipient public key (enables end-to-end encryption)")
	cmd.IntVar(&checkpointEvery, "checkpoint-every", 1000, "Write a signed checkpoint every N events")

	flagArgs, childArgv := splitChildArgv(args)
	if err := cmd.Parse(flagArgs); err != nil {
		return 1
	}
	if len(childArgv) == 0 {
		fmt.Fprintln(stderr, "Error: missing child command; usage: sentinel run [flags] -- <command> [args...]")
		return 1
	}

	envCfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: envCfg.LogLevel}))

	var signer *crypto.Ed25519Signer
	if signingKeyPath != "" {
		s, err := crypto.LoadSigningKeyB64(signingKeyPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: load signing key: %v\n", err)
			return 1
		}
		signer = s
	}

	if signer != nil {
		if err := precheckKeyRotation(auditLogPath, signer.KeyID()); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	var recipientPub *[32]byte
	if recipientPath != "" {
		pub, err := crypto.LoadRecipientPublicKeyB64(recipientPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: load recipient public key: %v\n", err)
			return 1
		}
		recipientPub = &pub
	}

	if dir := filepath.Dir(auditLogPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			fmt.Fprintf(stderr, "Error: create audit log directory: %v\n", err)
			return 1
		}
	}

	runID := uuid.NewString()
	fmt.Fprintf(stdout, "%sSentinel%s starting run %s%s%s\n", ColorBold+ColorBlue, ColorReset, ColorCyan, runID, ColorReset)
	fmt.Fprintf(stdout, "  child:       %s\n", strings.Join(childArgv, " "))
	fmt.Fprintf(stdout, "  audit log:   %s\n", auditLogPath)
	fmt.Fprintf(stdout, "  checkpoints: every %d events (signed: %v)\n", checkpointEvery, signer != nil)
	fmt.Fprintf(stdout, "  encryption:  %v\n", recipientPub != nil)

	wroteCheckpoint := false
	err := withPanicGuard(filepath.Dir(auditLogPath), func() error {
		var writeErr error
		wroteCheckpoint, writeErr = supervise(supervisorConfig{
			runID:           runID,
			auditLogPath:    auditLogPath,
			signer:          signer,
			recipientPub:    recipientPub,
			checkpointEvery: checkpointEvery,
			childArgv:       childArgv,
			stdin:           os.Stdin,
			stdout:          os.Stdout,
			stderr:          stderr,
			logger:          logger,
			redactPII:       envCfg.RedactPII,
		})
		return writeErr
	})

	if err != nil {
		fmt.Fprintf(stderr, "%sError%s: %v\n", ColorBold+ColorRed, ColorReset, err)
		return 1
	}

	fmt.Fprintf(stdout, "%sSentinel%s shutdown complete (final checkpoint written: %v)\n", ColorBold+ColorBlue, ColorReset, wroteCheckpoint)
	return 0
}

// splitChildArgv separates flag arguments from the child command's argv,
// which is everything after the first literal "--".
func splitChildArgv(args []string) (flagArgs, childArgv []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// withPanicGuard runs fn under a recover() that snapshots the panic to
// <logDir>/sentinel-crash-<ts>.log before re-raising (§9 supplemented
// "panic hook" feature). Only panics raised on the goroutine that calls fn
// are recovered; panics in goroutines that fn starts (the sequencer, parser,
// sink and forwarders) are not caught and leave no snapshot.
func withPanicGuard(logDir string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			path := filepath.Join(logDir, fmt.Sprintf("sentinel-crash-%d.log", time.Now().UnixMilli()))
			snapshot := fmt.Sprintf("sentinel panic: %v\n\n%s", r, debug.Stack())
			_ = os.WriteFile(path, []byte(snapshot), 0600)
			panic(r)
		}
	}()
	return fn()
}

// precheckKeyRotation rejects a run whose signing key does not match the
// key_id recorded in an existing audit log's checkpoints, before the sink
// opens (and truncates) the file. This is the runtime precheck described by
// scenario 6 in spec §8: it never inspects hashes or signatures, only the
// declared key_id, since its job is to fail fast on a rotated key.
func precheckKeyRotation(path, wantKeyID string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open existing audit log: %v", audit.ErrIoError, err)
	}
	defer f.Close()

	var peek struct {
		RecordType string `json:"record_type"`
		KeyID      string `json:"key_id"`
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &peek); err != nil {
			continue
		}
		if peek.RecordType == "Checkpoint" {
			if peek.KeyID != wantKeyID {
				return fmt.Errorf("%w: existing audit log %s was signed by key_id %s, current signing key is %s", audit.ErrKeyIdMismatch, path, peek.KeyID, wantKeyID)
			}
			return nil
		}
	}
	return nil
}

type supervisorConfig struct {
	runID           string
	auditLogPath    string
	signer          *crypto.Ed25519Signer
	recipientPub    *[32]byte
	checkpointEvery int
	childArgv       []string
	stdin           io.Reader
	stdout          io.Writer
	stderr          io.Writer
	logger          *slog.Logger
	redactPII       bool
}

// supervise spawns the child process, wires the four-stage pipeline
// between it and the calling process's own stdio, and blocks until the
// child exits or a termination signal arrives. It returns whether a final
// checkpoint was written on shutdown.
func supervise(cfg supervisorConfig) (wroteCheckpoint bool, err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	childCmd := exec.CommandContext(ctx, cfg.childArgv[0], cfg.childArgv[1:]...)
	childStdin, err := childCmd.StdinPipe()
	if err != nil {
		return false, fmt.Errorf("child stdin pipe: %w", err)
	}
	childStdout, err := childCmd.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("child stdout pipe: %w", err)
	}
	childStderr, err := childCmd.StderrPipe()
	if err != nil {
		return false, fmt.Errorf("child stderr pipe: %w", err)
	}

	if err := childCmd.Start(); err != nil {
		return false, fmt.Errorf("start child process: %w", err)
	}
	cfg.logger.Info("sentinel: child process started", "argv", strings.Join(cfg.childArgv, " "), "pid", childCmd.Process.Pid)

	file, err := os.OpenFile(cfg.auditLogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		_ = childCmd.Process.Kill()
		return false, fmt.Errorf("open audit log: %w", err)
	}

	var opts []audit.Option
	if cfg.signer != nil {
		opts = append(opts, audit.WithSigner(cfg.signer))
	}
	if cfg.recipientPub != nil {
		opts = append(opts, audit.WithEncryption(*cfg.recipientPub))
	}
	sink, err := audit.Open(file, file, cfg.runID, cfg.checkpointEvery, opts...)
	if err != nil {
		_ = file.Close()
		_ = childCmd.Process.Kill()
		return false, fmt.Errorf("open audit sink: %w", err)
	}

	bc := broadcaster.New(cfg.logger, 64, 256)
	defer bc.Close()

	var redactor *redact.PatternRedactor
	if cfg.redactPII {
		redactor = redact.New()
	}

	rawChan := make(chan tap.RawTap, queueDepth)
	tapEventChan := make(chan tap.TapEvent, queueDepth)
	logChan := make(chan mcplog.McpLog, queueDepth)

	sequencer := tap.NewSequencer(rawChan, tapEventChan)
	parser := mcplog.NewParser(cfg.runID, cfg.stderr)

	go sequencer.Run()
	go parser.Run(tapEventChan, logChan)

	go func() { _, _ = io.Copy(cfg.stderr, childStderr) }()

	// outboundDone closes once nothing more will be forwarded from cfg.stdin
	// to the child; inboundDone closes once the child's stdout has hit EOF
	// (the child exited or closed its output). The dialog's natural end is
	// inboundDone — the child deciding it's done talking — or a termination
	// signal; either way we then unblock the outbound reader so both
	// forwarders finish before rawChan is closed.
	outboundDone := make(chan struct{})
	inboundDone := make(chan struct{})
	go func() {
		defer close(outboundDone)
		defer func() { _ = childStdin.Close() }()
		_ = forwardTapped(cfg.stdin, childStdin, tap.Outbound, rawChan)
	}()
	go func() {
		defer close(inboundDone)
		_ = forwardTapped(childStdout, cfg.stdout, tap.Inbound, rawChan)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		for entry := range logChan {
			if redactor != nil {
				redactor.Redact(&entry)
			}
			if werr := sink.WriteEvent(entry); werr != nil {
				cfg.logger.Warn("sentinel: skipped event", "error", werr, "event_id", entry.EventID)
			} else if cerr := sink.MaybeWriteCheckpoint(); cerr != nil {
				cfg.logger.Warn("sentinel: checkpoint write failed", "error", cerr)
			}
			bc.Publish(entry)
		}
	}()

	select {
	case <-inboundDone:
	case <-sigChan:
		cfg.logger.Info("sentinel: termination signal received, stopping child")
		_ = childCmd.Process.Signal(syscall.SIGTERM)
		<-inboundDone
	}

	// The child is done talking; unblock the outbound forwarder (it may
	// still be parked on a read of cfg.stdin) so rawChan can be closed
	// without a send racing the close.
	if stdinFile, ok := cfg.stdin.(*os.File); ok {
		_ = stdinFile.Close()
	}
	<-outboundDone
	close(rawChan)

	_ = childCmd.Wait()
	<-sinkDone

	closeErr := sink.Close()
	return sink.WroteCheckpoint(), closeErr
}

// forwardTapped copies newline-delimited lines from src to dst unchanged,
// then emits a RawTap for each line to rawChan — strictly after the bytes
// have already reached their peer, per §2's raw-tap producer contract. The
// send to rawChan blocks, giving the pipeline lossless backpressure.
func forwardTapped(src io.Reader, dst io.Writer, direction tap.Direction, rawChan chan<- tap.RawTap) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		out := make([]byte, len(line)+1)
		copy(out, line)
		out[len(line)] = '\n'
		if _, err := dst.Write(out); err != nil {
			return err
		}
		rawChan <- tap.RawTap{
			Direction:    direction,
			Bytes:        out[:len(line)],
			ObservedTsMs: time.Now().UnixMilli(),
		}
	}
	return scanner.Err()
}
