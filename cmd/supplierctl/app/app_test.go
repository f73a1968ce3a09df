package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	compliance "github.com/iam-ankon/TADREACT-sub005"
	"github.com/iam-ankon/TADREACT-sub005/devserver"
	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling reader
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type cliEnv struct {
	srv  *devserver.Server
	url  string
	args []string
}

func setupCLITest(t *testing.T, store string) *cliEnv {
	t.Helper()
	srv := devserver.New()
	if err := srv.AddUser("admin", "password123"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	path := filepath.Join(t.TempDir(), "state")
	return &cliEnv{
		srv:  srv,
		url:  ts.URL,
		args: []string{"--base-url", ts.URL, "--store", store, "--store-path", path},
	}
}

// run executes one command in a fresh App, like a separate process would
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	a := New()
	var out, errOut bytes.Buffer
	a.SetIO(strings.NewReader(stdin), &out, &errOut)
	a.SetArgs(append(args, e.args...)...)
	err := a.Run()
	return out.String(), errOut.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := e.run(t, "", args...)
	if err != nil {
		t.Fatalf("%v: error = %v\nstderr: %s", args, err, errOut)
	}
	return out
}

func TestHelp(t *testing.T) {
	a := New()
	var out bytes.Buffer
	a.SetIO(strings.NewReader(""), &out, io.Discard)
	a.SetArgs("--help")

	if err := a.Run(); err != nil {
		t.Fatalf("Run() with --help error = %v", err)
	}
	for _, want := range []string{"login", "suppliers", "watch", "devserver"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help does not mention %s:\n%s", want, out.String())
		}
	}
}

func TestVersion(t *testing.T) {
	a := New()
	var out bytes.Buffer
	a.SetIO(strings.NewReader(""), &out, io.Discard)
	a.SetArgs("version")

	if err := a.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	fields := strings.Fields(out.String())
	if len(fields) != 2 || fields[0] != cmdName || fields[1] != "Dev" {
		t.Errorf("version output = %q", out.String())
	}
	if a.UsageError() {
		t.Error("version reported as usage error")
	}
}

func TestUsageError(t *testing.T) {
	a := New()
	a.SetIO(strings.NewReader(""), io.Discard, io.Discard)
	a.SetArgs("doesnotexist")

	if err := a.Run(); err == nil {
		t.Fatal("Run() should fail for an unknown command")
	}
	if !a.UsageError() {
		t.Error("unknown command should be a usage error")
	}
}

func TestConfigSources(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "supplierctl.yaml")
	data := "base_url: http://backend.example:9000\nstore: sqlite\ntimeout: 5s\n"
	if err := os.WriteFile(cfg, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantURL string
		wantSt  string
		wantTO  time.Duration
	}{
		{
			name:    "defaults",
			args:    []string{"version"},
			wantURL: "http://localhost:8000",
			wantSt:  "fs",
			wantTO:  30 * time.Second,
		},
		{
			name:    "config file",
			args:    []string{"version", "-c", cfg},
			wantURL: "http://backend.example:9000",
			wantSt:  "sqlite",
			wantTO:  5 * time.Second,
		},
		{
			name:    "env overrides file",
			env:     map[string]string{"SUPPLIERCTL_BASE_URL": "http://env.example"},
			args:    []string{"version", "-c", cfg},
			wantURL: "http://env.example",
			wantSt:  "sqlite",
			wantTO:  5 * time.Second,
		},
		{
			name:    "flag overrides env",
			env:     map[string]string{"SUPPLIERCTL_BASE_URL": "http://env.example"},
			args:    []string{"version", "-c", cfg, "--base-url", "http://flag.example", "--timeout", "1s"},
			wantURL: "http://flag.example",
			wantSt:  "sqlite",
			wantTO:  time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			a := New()
			a.SetIO(strings.NewReader(""), io.Discard, io.Discard)
			a.SetArgs(tt.args...)
			if err := a.Run(); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			c := a.Config()
			if c.BaseURL != tt.wantURL || c.Store != tt.wantSt || c.Timeout != tt.wantTO {
				t.Errorf("config = %+v, want url %s store %s timeout %s", c, tt.wantURL, tt.wantSt, tt.wantTO)
			}
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(cfg, []byte("base_url: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	a := New()
	a.SetIO(strings.NewReader(""), io.Discard, io.Discard)
	a.SetArgs("version", "-c", cfg)
	if err := a.Run(); err == nil || !strings.Contains(err.Error(), "can't load configuration") {
		t.Errorf("Run() error = %v, want configuration error", err)
	}
}

func TestSupplierWorkflow(t *testing.T) {
	for _, store := range []string{storeFS, storeSQLite} {
		t.Run(store, func(t *testing.T) {
			env := setupCLITest(t, store)

			out, _, err := env.run(t, "password123\n", "login", "-u", "admin")
			if err != nil {
				t.Fatalf("login error = %v", err)
			}
			if !strings.Contains(out, "Logged in") {
				t.Errorf("login output = %q", out)
			}

			soon := time.Now().AddDate(0, 0, 10).Format("2006-01-02")
			later := time.Now().AddDate(1, 0, 0).Format("2006-01-02")

			certificate := filepath.Join(t.TempDir(), "fire.pdf")
			if err := os.WriteFile(certificate, []byte("%PDF-1.4"), 0600); err != nil {
				t.Fatal(err)
			}

			out = env.mustRun(t, "suppliers", "create",
				"--set", "name=Acme Textiles",
				"--set", "category=Fabric",
				"--set", "Fire License="+soon,
				"--set", "gots_validity="+later,
				"--file", certificate,
			)
			var id string
			if _, err := fmt.Sscanf(out, "Saved supplier %s", &id); err != nil || id == "" {
				t.Fatalf("create output = %q", out)
			}

			sup, ok := env.srv.Supplier(compliance.ID(id))
			if !ok {
				t.Fatalf("supplier %s not stored", id)
			}
			if got := sup.Documents["fire_license_days_remaining"]; got != "10" {
				t.Errorf("stored fire_license_days_remaining = %q, want 10", got)
			}

			out = env.mustRun(t, "suppliers", "list", "--search", "acme")
			if !strings.Contains(out, "Acme Textiles") || !strings.Contains(out, "(1 suppliers)") {
				t.Errorf("list output = %q", out)
			}

			out = env.mustRun(t, "suppliers", "get", id)
			if !strings.Contains(out, "Fire License") || !strings.Contains(out, "expiring") {
				t.Errorf("get output = %q", out)
			}

			env.mustRun(t, "suppliers", "update", id, "--set", "compliance_status="+compliance.StatusCompliant)
			if sup, _ := env.srv.Supplier(compliance.ID(id)); sup.ComplianceStatus != compliance.StatusCompliant {
				t.Errorf("update did not persist: %+v", sup)
			}

			out = env.mustRun(t, "suppliers", "attach", id, certificate, "-d", "Renewal")
			if !strings.Contains(out, "Uploaded attachment") {
				t.Errorf("attach output = %q", out)
			}

			out = env.mustRun(t, "suppliers", "attachments", id)
			if !strings.Contains(out, "fire.pdf") || !strings.Contains(out, "Renewal") {
				t.Errorf("attachments output = %q", out)
			}

			out = env.mustRun(t, "suppliers", "expiring")
			if !strings.Contains(out, "Acme Textiles") || strings.Contains(out, "GOTS") {
				t.Errorf("expiring output = %q", out)
			}

			out = env.mustRun(t, "suppliers", "remind")
			if !strings.Contains(out, "Sent 1 reminders") {
				t.Errorf("remind output = %q", out)
			}

			out = env.mustRun(t, "suppliers", "agreement", id, compliance.AgreementSigned)
			if !strings.Contains(out, compliance.AgreementSigned) {
				t.Errorf("agreement output = %q", out)
			}

			out = env.mustRun(t, "suppliers", "stats")
			if !strings.Contains(out, "Suppliers") || !strings.Contains(out, "Agreement: "+compliance.AgreementSigned) {
				t.Errorf("stats output = %q", out)
			}

			env.mustRun(t, "suppliers", "delete", id)
			if _, ok := env.srv.Supplier(compliance.ID(id)); ok {
				t.Error("supplier still stored after delete")
			}

			env.mustRun(t, "logout")
			_, errOut, err := env.run(t, "", "suppliers", "list")
			if err == nil {
				t.Fatal("list after logout should fail")
			}
			if !strings.Contains(errOut, "supplierctl login") {
				t.Errorf("stderr = %q, want login hint", errOut)
			}
		})
	}
}

func TestCSRFFromDocumentMeta(t *testing.T) {
	env := setupCLITest(t, storeFS)

	out := env.mustRun(t, "csrf", "--document-path", "/")
	if strings.TrimSpace(out) == "" {
		t.Fatal("csrf printed no token")
	}
	if got := env.srv.Counters().CSRFFetches; got != 0 {
		t.Errorf("CSRFFetches = %d, want 0 when the meta tag provides the token", got)
	}

	out = env.mustRun(t, "csrf", "--refresh")
	if strings.TrimSpace(out) == "" {
		t.Fatal("csrf --refresh printed no token")
	}
	if got := env.srv.Counters().CSRFFetches; got != 1 {
		t.Errorf("CSRFFetches = %d, want 1 after --refresh", got)
	}
}

func TestCreateReportsFieldErrors(t *testing.T) {
	env := setupCLITest(t, storeFS)
	env.mustRun(t, "login", "-u", "admin", "-p", "password123")

	_, errOut, err := env.run(t, "", "suppliers", "create", "--set", "category=Fabric")
	if err == nil {
		t.Fatal("create without a name should fail")
	}
	if !strings.Contains(errOut, "name:") {
		t.Errorf("stderr = %q, want name field error", errOut)
	}
}

func TestCreateRejectsDerivedField(t *testing.T) {
	env := setupCLITest(t, storeFS)
	env.mustRun(t, "login", "-u", "admin", "-p", "password123")

	_, _, err := env.run(t, "", "suppliers", "create", "--set", "name=Acme", "--set", "bsci_days_remaining=99")
	if err == nil || !strings.Contains(err.Error(), "derived") {
		t.Errorf("error = %v, want derived field error", err)
	}
}

func TestWatchRecomputesAtMidnight(t *testing.T) {
	env := setupCLITest(t, storeFS)
	env.mustRun(t, "login", "-u", "admin", "-p", "password123")

	ids := env.srv.Seed(compliance.Supplier{
		Name:      "Acme",
		Documents: expiry.Fields{"fire_license_validity": "2025-01-11"},
	})

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC))
	a := New()
	a.clock = clock
	stdin, feed := io.Pipe()
	defer feed.Close()
	out := &syncBuffer{}
	a.SetIO(stdin, out, io.Discard)
	a.SetArgs(append([]string{"watch", string(ids[0])}, env.args...)...)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	waitFor(t, out, "\t10 days")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("scheduler never armed its timer: %v", err)
	}
	clock.Advance(30 * time.Minute)
	waitFor(t, out, "\t9 days")

	a.Quit()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch returned %v after Quit", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after Quit")
	}
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, out.String())
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"name=Acme", "fire license=2026-01-01", "bsci=", "note=a=b"})
	if err != nil {
		t.Fatalf("parseAssignments() error = %v", err)
	}
	want := [][2]string{
		{"name", "Acme"},
		{"fire_license_validity", "2026-01-01"},
		{"bsci_validity", ""},
		{"note", "a=b"},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("parseAssignments() = %v, want %v", got, want)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("parseAssignments(%q) should fail", bad)
		}
	}
}

func TestOpenStore_Unknown(t *testing.T) {
	a := New()
	a.config.Store = "etcd"
	if _, _, err := a.openStore(); err == nil {
		t.Error("openStore() should reject unknown backends")
	}
}
