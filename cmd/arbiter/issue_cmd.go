package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mindburn-Labs/arbiter/pkg/arbiter"
	"github.com/Mindburn-Labs/arbiter/pkg/config"
	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/eligibility"
	"github.com/Mindburn-Labs/arbiter/pkg/normalize"
)

// issueRequest is the input document of `arbiter issue`. Candidate is
// optional; without it the configured analyzer proposes the verdict.
type issueRequest struct {
	Dispute   contracts.Dispute           `json:"dispute"`
	Evidence  []contracts.EvidenceItem    `json:"evidence"`
	Candidate *contracts.CandidateVerdict `json:"candidate,omitempty"`
}

type rejection struct {
	Rejected bool   `json:"rejected"`
	Stage    string `json:"stage"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// runIssueCmd implements `arbiter issue`.
//
// Exit codes:
//
//	0 = ticket issued
//	1 = dispute or candidate rejected
//	2 = runtime error (config, key, analyzer unavailable)
func runIssueCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("issue", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		requestPath string
		outPath     string
	)
	cmd.StringVar(&requestPath, "request", "-", "Request JSON file (- for stdin)")
	cmd.StringVar(&outPath, "out", "", "Write the signed ticket here instead of stdout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	raw, err := readInput(requestPath, os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read request: %v\n", err)
		return 2
	}
	var req issueRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse request: %v\n", err)
		return 2
	}
	status, err := contracts.ParseDisputeStatus(string(req.Dispute.Status))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse request: %v\n", err)
		return 2
	}
	req.Dispute.Status = status

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := newLogger(cfg, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	var signed *contracts.SignedTicket
	if req.Candidate != nil {
		signed, err = engine.Issue(ctx, req.Dispute, req.Evidence, req.Candidate)
	} else {
		signed, err = engine.Resolve(ctx, req.Dispute, req.Evidence)
	}
	if err != nil {
		if rej, ok := asRejection(err); ok {
			data, _ := json.Marshal(rej)
			_, _ = fmt.Fprintln(stdout, string(data))
			return 1
		}
		if errors.Is(err, arbiter.ErrNoAnalyzer) {
			_, _ = fmt.Fprintln(stderr, "Error: no analyzer configured; supply a candidate in the request")
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, err := json.Marshal(signed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := writeOutput(outPath, data, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write ticket: %v\n", err)
		return 2
	}
	return 0
}

func asRejection(err error) (rejection, bool) {
	var eligErr *eligibility.EligibilityError
	if errors.As(err, &eligErr) {
		return rejection{Rejected: true, Stage: "eligibility", Code: eligErr.Code, Message: eligErr.Message}, true
	}
	var valErr *normalize.ValidationError
	if errors.As(err, &valErr) {
		return rejection{Rejected: true, Stage: "validation", Code: valErr.Code, Message: valErr.Message}, true
	}
	return rejection{}, false
}
