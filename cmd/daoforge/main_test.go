package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"daoforge/internal/core"
	"daoforge/pkg/domain"
)

// ledger points the CLI at a fresh sqlite file and silences logs.
func ledger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DAOFORGE_CONFIG", "")
	t.Setenv("DAOFORGE_STORAGE_DRIVER", "sqlite")
	t.Setenv("DAOFORGE_SQLITE_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("DAOFORGE_LOG_LEVEL", "disabled")
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func mustRun(t *testing.T, out any, args ...string) {
	t.Helper()
	code, stdout, stderr := run(t, args...)
	if code != 0 {
		t.Fatalf("%v exited %d: %s", args, code, stderr)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(stdout), out); err != nil {
			t.Fatalf("%v: decode %q: %v", args, stdout, err)
		}
	}
}

func TestTwoPhaseFlow(t *testing.T) {
	ledger(t)
	mustRun(t, nil, "asset", "--address", "@usdc", "--decimals", "6", "--holder", "@alice=100")

	var prep core.PrepareResult
	mustRun(t, &prep, "prepare", "--as", "@alice", "--asset", "@usdc")
	if prep.Org.IsZero() {
		t.Fatalf("prepare returned no organization")
	}

	var pending pendingState
	mustRun(t, &pending, "pending", "--as", "@alice")
	if pending.Instance == nil || pending.Instance.Org != prep.Org {
		t.Fatalf("pending = %+v", pending)
	}

	var fin core.FinalizeResult
	mustRun(t, &fin, "finalize", "--as", "@alice", "--id", "myorg", "--member", "@m1", "--member", "@m2")
	if fin.Org.Address != prep.Org || fin.Org.Status != domain.OrgFinalized {
		t.Fatalf("finalize = %+v", fin.Org)
	}

	var resolved map[string]string
	mustRun(t, &resolved, "resolve", "myorg")
	if resolved["org"] != prep.Org.Hex() {
		t.Fatalf("resolved = %v", resolved)
	}

	var inspected inspection
	mustRun(t, &inspected, "inspect", "--org", prep.Org.Hex())
	if len(inspected.Components) != 10 || inspected.ACLDigest == "" {
		t.Fatalf("inspect: %d components, digest %q", len(inspected.Components), inspected.ACLDigest)
	}
	for _, p := range inspected.Permissions {
		if p.Manager == core.TemplateAddress || p.GrantedTo(core.TemplateAddress) {
			t.Fatalf("template left on %s", p.Key())
		}
	}

	code, _, stderr := run(t, "finalize", "--as", "@alice", "--member", "@m1")
	if code != 1 || !strings.Contains(stderr, "TEMPLATE_MISSING_CACHE") {
		t.Fatalf("second finalize: code %d stderr %q", code, stderr)
	}
}

func TestCreateAndOrphans(t *testing.T) {
	ledger(t)
	mustRun(t, nil, "asset", "--address", "@usdc")
	var first, second core.PrepareResult
	mustRun(t, &first, "prepare", "--as", "@bob", "--asset", "@usdc")
	mustRun(t, &second, "prepare", "--as", "@bob", "--asset", "@usdc")

	var orphans []core.Organization
	mustRun(t, &orphans, "orphans")
	if len(orphans) != 1 || orphans[0].Address != first.Org {
		t.Fatalf("orphans = %+v", orphans)
	}

	var created core.FinalizeResult
	mustRun(t, &created, "create", "--as", "@bob", "--asset", "@usdc", "--member", "@m1", "--finance-period", "48h")
	if created.Org.Address == second.Org {
		t.Fatalf("create reused the cached organization")
	}
	var pending pendingState
	mustRun(t, &pending, "pending", "--as", "@bob")
	if pending.Instance == nil || pending.Instance.Org != second.Org {
		t.Fatalf("create touched the cache: %+v", pending)
	}
}

func TestLegacyFlow(t *testing.T) {
	ledger(t)
	mustRun(t, nil, "asset", "--address", "@usdc")
	mustRun(t, nil, "account", "--address", "@safe", "--forwarder")
	var tok core.TokenResult
	mustRun(t, &tok, "new-token", "--as", "@carol", "--name", "Gov", "--symbol", "GOV")

	var res core.LegacyResult
	mustRun(t, &res, "new-instance", "--as", "@carol", "--id", "legacy", "--asset", "@usdc", "--authority", "@safe")
	if res.Voting.Token != tok.Token.Address || res.Authority != domain.PrincipalAddress("safe") {
		t.Fatalf("new instance = %+v", res.LegacyInstance)
	}
}

func TestReceiptsAndObservabilityFiles(t *testing.T) {
	dir := ledger(t)
	metrics := filepath.Join(dir, "daoforge.prom")
	trace := filepath.Join(dir, "trace.jsonl")
	t.Setenv("DAOFORGE_BLOB_DRIVER", "fs")
	t.Setenv("DAOFORGE_BLOB_FS_ROOT", filepath.Join(dir, "receipts"))
	t.Setenv("DAOFORGE_METRICS", "prometheus")
	t.Setenv("DAOFORGE_METRICS_FILE", metrics)
	t.Setenv("DAOFORGE_TRACE_FILE", trace)

	mustRun(t, nil, "asset", "--address", "@usdc")
	mustRun(t, nil, "prepare", "--as", "@dave", "--asset", "@usdc")
	mustRun(t, nil, "finalize", "--as", "@dave", "--member", "@m1")

	// Each run rewrites the textfile with its own registry.
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `daoforge_service_operations_total{operation="finalize_instance",status="success"} 1`) {
		t.Fatalf("metrics file = %s", data)
	}

	var receipts []core.Receipt
	mustRun(t, &receipts, "receipts", "--as", "@dave")
	if len(receipts) != 2 || receipts[0].Operation != core.OpPrepareInstance || receipts[1].Operation != core.OpFinalizeInstance {
		t.Fatalf("receipts = %+v", receipts)
	}

	spans, err := os.ReadFile(trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if n := strings.Count(string(spans), "\n"); n != 3 {
		t.Fatalf("trace has %d lines:\n%s", n, spans)
	}
}

func TestConfigFile(t *testing.T) {
	dir := ledger(t)
	path := filepath.Join(dir, "daoforge.toml")
	body := "[template]\nname_domain = \"example.eth\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mustRun(t, nil, "--config", path, "asset", "--address", "@usdc")

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[template]\nbogus = 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if code, _, stderr := run(t, "--config", bad, "orphans"); code != 1 || !strings.Contains(stderr, "bogus") {
		t.Fatalf("bad config: code %d stderr %q", code, stderr)
	}
}

func TestUsageErrors(t *testing.T) {
	ledger(t)
	cases := [][]string{
		{},
		{"launch"},
		{"prepare", "--asset", "@usdc"},
		{"prepare", "--as", "@alice"},
		{"prepare", "--as", "0xnothex", "--asset", "@usdc"},
		{"asset", "--address", "@usdc", "--holder", "alice"},
		{"asset", "--address", "@usdc", "--decimals", "300"},
		{"orphans", "extra"},
		{"resolve"},
		{"pending", "--bogus"},
	}
	for _, args := range cases {
		if code, _, _ := run(t, args...); code != 2 {
			t.Errorf("%v exited %d, want 2", args, code)
		}
	}
}

func TestHelp(t *testing.T) {
	ledger(t)
	code, _, stderr := run(t, "finalize", "--help")
	if code != 0 || !strings.Contains(stderr, "--member") || !strings.Contains(stderr, "--council-quorum") {
		t.Fatalf("help: code %d stderr %q", code, stderr)
	}
	code, _, stderr = run(t, "--help")
	if code != 0 || !strings.Contains(stderr, "new-instance") {
		t.Fatalf("global help: code %d stderr %q", code, stderr)
	}
}

func TestParseAddress(t *testing.T) {
	seeded, err := parseAddress("@alice")
	if err != nil || seeded != domain.PrincipalAddress("alice") {
		t.Fatalf("seeded = %s %v", seeded, err)
	}
	hex, err := parseAddress(seeded.Hex())
	if err != nil || hex != seeded {
		t.Fatalf("hex = %s %v", hex, err)
	}
	if _, err := parseAddress("@"); err == nil {
		t.Fatalf("empty seed accepted")
	}
}
