package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		in   string
		want bool
	}{
		{"internal", InternalImportForbidden, "plcserver/internal/mirror", true},
		{"internal root", InternalImportForbidden, "example.com/mod/internal", true},
		{"internal pkg", InternalImportForbidden, "plcserver/pkg/domain", false},
		{"third party", ThirdPartyImportForbidden, "github.com/spf13/cobra", true},
		{"stdlib", ThirdPartyImportForbidden, "net/http", false},
		{"module", ModuleImportForbidden("plcserver"), "plcserver/pkg/domain", true},
		{"module root", ModuleImportForbidden("plcserver"), "plcserver", true},
		{"module prefix", ModuleImportForbidden("plcserver"), "plcserverx/y", false},
		{"any", AnyOf(ThirdPartyImportForbidden, InternalImportForbidden), "golang.org/x/sync", true},
		{"none", AnyOf(), "fmt", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("%s(%q) = %v want %v", c.name, c.in, got, c.want)
		}
	}
}

func writePkg(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestDirectImportViolations(t *testing.T) {
	dir := writePkg(t, map[string]string{
		"a.go":      "package tmp\nimport (\n\"fmt\"\n\"plcserver/internal/x\"\n)\nvar _ = fmt.Sprint\nvar _ = x.Y\n",
		"b_test.go": "package tmp\nimport \"github.com/stretchr/testify/assert\"\nvar _ = assert.True\n",
	})
	viols, err := directImportViolations(dir, AnyOf(InternalImportForbidden, ThirdPartyImportForbidden))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "plcserver/internal/x") {
		t.Fatalf("violations = %v", viols)
	}
	AssertNoDirectImports(t, dir, ThirdPartyImportForbidden, "test files are skipped")
}

func TestDirectImportViolationsErrors(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), ThirdPartyImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	dir := writePkg(t, map[string]string{"bad.go": "package tmp\nimport (\n"})
	if _, err := directImportViolations(dir, ThirdPartyImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfDirectViolations(t *testing.T) {
	var r recorder
	failIfDirectViolations(&r, "reason", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure: %s", r.msg)
	}
	failIfDirectViolations(&r, "reason", []string{"a", "b"})
	if !strings.Contains(r.msg, "reason") || !strings.Contains(r.msg, "a\nb") {
		t.Fatalf("message = %q", r.msg)
	}
}
