package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fetchledger/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if r := CheckFreeSpace("space", dir, 1); !r.Passed {
		t.Fatalf("expected one byte to fit, got: %s", r.Detail)
	}
	if r := CheckFreeSpace("space", dir, 1<<62); r.Passed {
		t.Fatalf("expected an exabyte-scale request to fail, got: %s", r.Detail)
	}
	if r := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); r.Passed || !strings.Contains(r.Detail, "statfs") {
		t.Fatalf("expected statfs failure, got: %+v", r)
	}
}

func TestCheckMirrors(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	r := CheckMirrors(context.Background(), nil, []string{up.URL, down.URL})
	if !r.Passed || !r.Advisory {
		t.Fatalf("expected advisory pass, got %+v", r)
	}
	if !strings.Contains(r.Detail, "1 of 2 reachable") || !strings.Contains(r.Detail, "status 502") {
		t.Fatalf("unexpected detail %q", r.Detail)
	}

	r = CheckMirrors(context.Background(), nil, []string{down.URL})
	if r.Passed {
		t.Fatalf("expected failure when no mirror answers, got %+v", r)
	}
}

func TestRunAllBlocking(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := RunAll(context.Background(), cfg, Inputs{RemainingBytes: 1024})
	if len(results) != 3 {
		t.Fatalf("expected three checks, got %+v", results)
	}
	if blocking := Blocking(results); len(blocking) != 0 {
		t.Fatalf("expected no blocking failures, got %+v", blocking)
	}

	cfg.Paths.DownloadDir = filepath.Join(t.TempDir(), "absent")
	results = RunAll(context.Background(), cfg, Inputs{Mirrors: []string{"http://127.0.0.1:1"}})
	blocking := Blocking(results)
	if len(blocking) != 1 || blocking[0].Name != "Download directory" {
		t.Fatalf("expected download directory failure, got %+v", blocking)
	}
}
