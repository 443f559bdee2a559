package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Mindburn-Labs/arbiter/pkg/acceptance"
	"github.com/Mindburn-Labs/arbiter/pkg/config"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
	"github.com/Mindburn-Labs/arbiter/pkg/ticket"
)

type verifyResult struct {
	Valid         bool   `json:"valid"`
	Signature     bool   `json:"signature_valid"`
	Trusted       *bool  `json:"trusted,omitempty"`
	Expired       *bool  `json:"expired,omitempty"`
	DealID        string `json:"deal_id,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	ArbiterPubKey string `json:"arbiter_pubkey,omitempty"`
	ExpiresAtUTC  string `json:"expires_at_utc,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// runVerifyCmd implements `arbiter verify`. Verification needs no key
// material and no configuration: it is a pure function of the ticket bytes.
//
// Exit codes:
//
//	0 = valid
//	1 = invalid, untrusted or expired
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		ticketPath string
		nowFlag    string
		pubKeys    string
		jsonOutput bool
	)
	cmd.StringVar(&ticketPath, "ticket", "-", "Signed ticket JSON file (- for stdin)")
	cmd.StringVar(&nowFlag, "now", "", `Also check expiry at this RFC 3339 time, or "now"`)
	cmd.StringVar(&pubKeys, "pubkey", "", "Comma-separated arbiter public keys to trust")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	raw, err := readInput(ticketPath, os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read ticket: %v\n", err)
		return 2
	}

	var checkAt *time.Time
	if nowFlag != "" {
		at, err := parseNow(nowFlag)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --now: %v\n", err)
			return 2
		}
		checkAt = &at
	}

	var keys *crypto.TrustedKeys
	if pubKeys != "" {
		keys, err = crypto.NewTrustedKeys(splitList(pubKeys)...)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --pubkey: %v\n", err)
			return 2
		}
	}

	res := verifyTicket(raw, keys, checkAt)
	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if res.Valid {
		_, _ = fmt.Fprintf(stdout, "✅ Ticket valid: deal %s -> %s (key %s)\n", res.DealID, res.Outcome, res.ArbiterPubKey)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Ticket invalid: %s\n", res.Reason)
	}

	if !res.Valid {
		return 1
	}
	return 0
}

func verifyTicket(raw []byte, keys *crypto.TrustedKeys, at *time.Time) verifyResult {
	var res verifyResult
	res.Signature = crypto.VerifyJSON(raw)
	if !res.Signature {
		res.Reason = "signature does not verify"
		return res
	}
	signed, err := crypto.DecodeSigned(raw)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.DealID = signed.Ticket.DealID
	res.Outcome = string(signed.Ticket.Outcome)
	res.ArbiterPubKey = signed.ArbiterPubKey
	res.ExpiresAtUTC = signed.Ticket.ExpiresAtUTC

	if keys != nil {
		trusted := keys.Trusted(signed.ArbiterPubKey)
		res.Trusted = &trusted
		if !trusted {
			res.Reason = "arbiter key not trusted"
			return res
		}
	}
	if at != nil {
		expired := ticket.Expired(signed.Ticket, *at)
		res.Expired = &expired
		if expired {
			res.Reason = "ticket expired at " + signed.Ticket.ExpiresAtUTC
			return res
		}
	}
	res.Valid = true
	return res
}

// runAcceptCmd implements `arbiter accept`: the escrow-side acceptance
// check, which consumes the nonce in the configured nonce store.
//
// Exit codes:
//
//	0 = accepted
//	1 = rejected (signature, trust, expiry or replay)
//	2 = runtime error
func runAcceptCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("accept", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		ticketPath string
		pubKeys    string
		jsonOutput bool
	)
	cmd.StringVar(&ticketPath, "ticket", "-", "Signed ticket JSON file (- for stdin)")
	cmd.StringVar(&pubKeys, "pubkey", "", "Comma-separated trusted keys (default: ARBITER_TRUSTED_KEYS)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	raw, err := readInput(ticketPath, os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read ticket: %v\n", err)
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := newLogger(cfg, stderr)

	trusted := cfg.TrustedKeys
	if pubKeys != "" {
		trusted = splitList(pubKeys)
	}
	opts := []acceptance.Option{acceptance.WithLogger(logger)}
	if len(trusted) > 0 {
		keys, err := crypto.NewTrustedKeys(trusted...)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: trusted keys: %v\n", err)
			return 2
		}
		opts = append(opts, acceptance.WithTrustedKeys(keys))
	}

	ctx := context.Background()
	store, err := openNonceStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: nonce store: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	t, err := acceptance.NewAcceptor(store, opts...).AcceptJSON(ctx, raw)
	res := verifyResult{Valid: err == nil, Signature: !errors.Is(err, acceptance.ErrInvalidSignature)}
	switch {
	case err == nil:
		res.DealID = t.DealID
		res.Outcome = string(t.Outcome)
		res.ExpiresAtUTC = t.ExpiresAtUTC
	case isRejection(err):
		res.Reason = err.Error()
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if res.Valid {
		_, _ = fmt.Fprintf(stdout, "✅ Ticket accepted: deal %s -> %s\n", res.DealID, res.Outcome)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Ticket rejected: %s\n", res.Reason)
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func isRejection(err error) bool {
	return errors.Is(err, acceptance.ErrInvalidSignature) ||
		errors.Is(err, acceptance.ErrUntrustedKey) ||
		errors.Is(err, acceptance.ErrExpired) ||
		errors.Is(err, acceptance.ErrReplay)
}

func parseNow(s string) (time.Time, error) {
	if s == "now" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
