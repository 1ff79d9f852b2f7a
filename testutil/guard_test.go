package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDomainImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"daoforge/pkg/domain", true},
		{"daoforge/pkg/domain@v1", true},
		{"daoforge/pkg/notdomain", false},
	}
	for _, c := range cases {
		if got := DomainImportForbidden(c.in); got != c.want {
			t.Fatalf("DomainImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"daoforge/internal/x", true},
		{"daoforge/pkg/x", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestPersistenceImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"daoforge/internal/infra/persistence/memory", true},
		{"daoforge/internal/infra/blob/s3", true},
		{"daoforge/internal/blob", true},
		{"daoforge/internal/blob/core", false},
		{"daoforge/internal/codec", false},
	}
	for _, c := range cases {
		if got := PersistenceImportForbidden(c.in); got != c.want {
			t.Fatalf("PersistenceImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestOnlyModuleImports(t *testing.T) {
	forbidden := OnlyModuleImports("daoforge/pkg/domain")
	cases := []struct {
		in   string
		want bool
	}{
		{"daoforge/pkg/domain", false},
		{"daoforge/internal/core", true},
		{"daoforge", true},
		{"daoforgery/x", false},
		{"fmt", false},
		{"github.com/zeebo/blake3", false},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("OnlyModuleImports(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsIgnoresTestFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"main.go":      "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n",
		"main_test.go": "package tmp\nimport \"daoforge/internal/core\"\nvar _ = core.Service{}\n",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 0 {
		t.Fatalf("expected test files to be skipped, got %v", viols)
	}
}

func TestDirectImportViolationsReportsFile(t *testing.T) {
	dir := t.TempDir()
	src := "package tmp\nimport _ \"daoforge/internal/infra/persistence/memory\"\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, PersistenceImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "bad.go") {
		t.Fatalf("expected one violation naming bad.go, got %v", viols)
	}
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfDirectViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "reason", nil)
	if rec.msg != "" {
		t.Fatalf("expected no failure, got %q", rec.msg)
	}
	failIfDirectViolations(rec, "reason", []string{"a (in x.go)"})
	if !strings.Contains(rec.msg, "reason") || !strings.Contains(rec.msg, "a (in x.go)") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}
