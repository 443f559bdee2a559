package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/arbiter/pkg/config"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
)

type keyOutput struct {
	Seed   string `json:"seed,omitempty"`
	PubKey string `json:"arbiter_pubkey"`
}

// runKeygenCmd implements `arbiter keygen`.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	signer, err := crypto.GenerateSigner()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = signer.Close() }()

	out := keyOutput{Seed: signer.SeedHex(), PubKey: signer.PublicKey()}
	if *jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "ARBITER_SECRET_KEY=%s\n", out.Seed)
	_, _ = fmt.Fprintf(stdout, "# public key: %s\n", out.PubKey)
	return 0
}

// runPubkeyCmd implements `arbiter pubkey`: the key configured for issuance.
func runPubkeyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	signer, err := loadSigner(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = signer.Close() }()

	if *jsonOutput {
		data, _ := json.MarshalIndent(keyOutput{PubKey: signer.PublicKey()}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintln(stdout, signer.PublicKey())
	return 0
}
