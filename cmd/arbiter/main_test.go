package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
)

const requestTemplate = `{
  "dispute": {
    "deal_id": "deal-cli-1",
    "seller": "0xseller",
    "buyer": "0xbuyer",
    "amount": "250.00",
    "asset": "USDC",
    "dispute_by": "2020-01-01T00:00:00Z",
    "fee_rate": "0.01",
    "created_at": "2019-12-01T00:00:00Z",
    "status": "%s"
  },
  "evidence": [{
    "cid": "bafybeitracking",
    "type": "tracking",
    "description": "delivered, tracking confirmed",
    "submitter": "seller",
    "submitted_at": "2019-12-20T00:00:00Z"
  }]%s
}`

type cli struct {
	t   *testing.T
	dir string
}

// newCLI isolates configuration in env vars and a temp directory.
func newCLI(t *testing.T) *cli {
	t.Helper()
	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	dir := t.TempDir()

	for _, k := range []string{"ARBITER_CONFIG", "ARBITER_MASTER_SECRET", "ARBITER_POLICY_PATH", "ARBITER_TRUSTED_KEYS", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(k, "")
	}
	t.Setenv("ARBITER_SECRET_KEY", signer.SeedHex())
	t.Setenv("ARBITER_ANALYZER", "advisory")
	t.Setenv("ARBITER_NONCE_STORE", "sqlite:"+filepath.Join(dir, "nonces.db"))
	t.Setenv("LOG_LEVEL", "ERROR")
	return &cli{t: t, dir: dir}
}

func (c *cli) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"arbiter"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (c *cli) write(name, content string) string {
	path := filepath.Join(c.dir, name)
	require.NoError(c.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func request(status, extra string) string {
	return strings.Replace(strings.Replace(requestTemplate, "%s", status, 1), "%s", extra, 1)
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, Run([]string{"arbiter"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "USAGE")

	stdout.Reset()
	assert.Equal(t, 0, Run([]string{"arbiter", "help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "issue")

	stderr.Reset()
	assert.Equal(t, 2, Run([]string{"arbiter", "bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown command: bogus")
}

func TestKeygen_JSON(t *testing.T) {
	c := newCLI(t)
	code, out, _ := c.run("keygen", "--json")
	require.Equal(t, 0, code)

	var k keyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &k))
	assert.Len(t, k.Seed, 64)
	assert.Len(t, k.PubKey, 64)

	signer, err := crypto.NewSignerFromHex(k.Seed)
	require.NoError(t, err)
	assert.Equal(t, k.PubKey, signer.PublicKey())
}

func TestPubkey(t *testing.T) {
	c := newCLI(t)
	code, out, _ := c.run("pubkey")
	require.Equal(t, 0, code)

	signer, err := crypto.NewSignerFromHex(os.Getenv("ARBITER_SECRET_KEY"))
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), strings.TrimSpace(out))

	t.Setenv("ARBITER_SECRET_KEY", "")
	code, _, errOut := c.run("pubkey")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "no key configured")
}

func TestPolicyCmd(t *testing.T) {
	c := newCLI(t)
	code, out, _ := c.run("policy")
	require.Equal(t, 0, code)
	var p policyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "escrow-default", p.Name)
	assert.Equal(t, []string{"1.0.0"}, p.Versions)
	assert.NotEmpty(t, p.Rules)

	bad := c.write("bad.yaml", "name: broken\nversion: not-semver\nrules: []\n")
	code, _, errOut := c.run("policy", "--file", bad, "--quiet")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Invalid policy")
}

func TestIssueVerifyAccept(t *testing.T) {
	c := newCLI(t)
	reqPath := c.write("request.json", request("Disputed", ""))
	ticketPath := filepath.Join(c.dir, "ticket.json")

	code, _, errOut := c.run("issue", "--request", reqPath, "--out", ticketPath)
	require.Equal(t, 0, code, errOut)

	raw, err := os.ReadFile(ticketPath)
	require.NoError(t, err)
	var signed contracts.SignedTicket
	require.NoError(t, json.Unmarshal(raw, &signed))
	assert.Equal(t, "deal-cli-1", signed.Ticket.DealID)
	assert.True(t, crypto.Verify(&signed))

	code, out, _ := c.run("verify", "--ticket", ticketPath, "--json", "--now", "now")
	require.Equal(t, 0, code)
	var res verifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	require.NotNil(t, res.Expired)
	assert.False(t, *res.Expired)

	code, _, _ = c.run("verify", "--ticket", ticketPath, "--now", "2100-01-01T00:00:00Z")
	assert.Equal(t, 1, code, "expired at a later instant")

	other, err := crypto.GenerateSigner()
	require.NoError(t, err)
	code, _, _ = c.run("verify", "--ticket", ticketPath, "--pubkey", other.PublicKey())
	assert.Equal(t, 1, code, "untrusted key")

	tampered := c.write("tampered.json", strings.Replace(string(raw), "deal-cli-1", "deal-cli-2", 1))
	code, out, _ = c.run("verify", "--ticket", tampered)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Ticket invalid")

	code, out, errOut = c.run("accept", "--ticket", ticketPath, "--pubkey", signed.ArbiterPubKey)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Ticket accepted")

	code, out, _ = c.run("accept", "--ticket", ticketPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "already redeemed")
}

func TestIssue_Rejections(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("issue", "--request", c.write("funded.json", request("Funded", "")))
	assert.Equal(t, 1, code)
	var rej rejection
	require.NoError(t, json.Unmarshal([]byte(out), &rej))
	assert.Equal(t, "eligibility", rej.Stage)
	assert.Equal(t, "ELIGIBILITY_NOT_DISPUTED", rej.Code)

	bad := `,
  "candidate": {"outcome": "MAYBE", "reason": "unclear", "confidence": 0.5}`
	code, out, _ = c.run("issue", "--request", c.write("bad.json", request("Disputed", bad)))
	assert.Equal(t, 1, code)
	require.NoError(t, json.Unmarshal([]byte(out), &rej))
	assert.Equal(t, "validation", rej.Stage)
	assert.Equal(t, "VALIDATION_BAD_OUTCOME", rej.Code)
}

func TestIssue_CandidateWithStaticAnalyzer(t *testing.T) {
	c := newCLI(t)
	t.Setenv("ARBITER_ANALYZER", "static")

	code, _, errOut := c.run("issue", "--request", c.write("plain.json", request("Disputed", "")))
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "supply a candidate")

	candidate := `,
  "candidate": {"outcome": "REFUND", "reason": "parcel never arrived", "confidence": 0.75}`
	code, out, errOut := c.run("issue", "--request", c.write("cand.json", request("Disputed", candidate)))
	require.Equal(t, 0, code, errOut)
	var signed contracts.SignedTicket
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	assert.Equal(t, contracts.OutcomeRefund, signed.Ticket.Outcome)
	assert.Equal(t, 0.75, signed.Ticket.Confidence)
}

func TestIssue_BadConfig(t *testing.T) {
	c := newCLI(t)
	t.Setenv("ARBITER_SECRET_KEY", "zz")
	code, _, errOut := c.run("issue", "--request", c.write("r.json", request("Disputed", "")))
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Error")
}

func TestIssue_TelemetryEnabled(t *testing.T) {
	c := newCLI(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_TIMEOUT", "200")

	code, out, errOut := c.run("issue", "--request", c.write("r.json", request("Disputed", "")))
	require.Equal(t, 0, code, errOut)
	var signed contracts.SignedTicket
	require.NoError(t, json.Unmarshal([]byte(out), &signed))
	assert.True(t, crypto.Verify(&signed))
}

func TestIssue_UnknownStatusIsInputError(t *testing.T) {
	c := newCLI(t)
	code, _, errOut := c.run("issue", "--request", c.write("frozen.json", request("Frozen", "")))
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, `unknown dispute status "Frozen"`)

	code, _, errOut = c.run("issue", "--request", c.write("lower.json", request("disputed", "")))
	assert.Equal(t, 0, code, errOut)
}

func TestPolicyCmd_Registry(t *testing.T) {
	c := newCLI(t)
	builtin, err := os.ReadFile(filepath.Join("..", "..", "pkg", "policy", "default_policy.yaml"))
	require.NoError(t, err)
	v1 := c.write("v1.yaml", string(builtin))
	v2 := c.write("v2.yaml", strings.Replace(string(builtin), "version: 1.0.0", "version: 1.2.0", 1))

	code, out, errOut := c.run("policy", "--file", v2+","+v1)
	require.Equal(t, 0, code, errOut)
	var p policyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "1.2.0", p.Version)
	assert.Equal(t, []string{"1.0.0", "1.2.0"}, p.Versions)

	code, _, errOut = c.run("policy", "--file", v1+","+v1, "--quiet")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already registered")

	t.Setenv("ARBITER_POLICY_PATH", v1+","+v2)
	code, _, errOut = c.run("issue", "--request", c.write("r.json", request("Disputed", "")))
	assert.Equal(t, 0, code, errOut)
}
