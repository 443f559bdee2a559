package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/arbiter/pkg/config"
	"github.com/Mindburn-Labs/arbiter/pkg/policy"
)

type policyOutput struct {
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Versions []string      `json:"versions"`
	Rules    []policy.Rule `json:"rules"`
}

// runPolicyCmd implements `arbiter policy`: it loads every listed file and
// prints the active (highest) version. A table that fails to load exits 1.
func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var file string
	cmd.StringVar(&file, "file", "", "Comma-separated policy files (default: ARBITER_POLICY_PATH or built-in)")
	quiet := cmd.Bool("quiet", false, "Validate only, print nothing on success")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if file == "" {
		cfg, err := config.Load()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		file = cfg.PolicyPath
	}

	policies, err := loadPolicies(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid policy: %v\n", err)
		return 1
	}
	if *quiet {
		return 0
	}

	table := policies.Latest()
	data, err := json.MarshalIndent(policyOutput{
		Name:     table.Name(),
		Version:  table.Version(),
		Versions: policies.Versions(),
		Rules:    table.Rules(),
	}, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
