package compliance_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	compliance "github.com/iam-ankon/TADREACT-sub005"
	"github.com/iam-ankon/TADREACT-sub005/client"
	"github.com/iam-ankon/TADREACT-sub005/devserver"
)

var testNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// setupServiceTest starts a dev backend and returns a logged-in service
func setupServiceTest(t *testing.T) (*compliance.Service, *devserver.Server, *clockwork.FakeClock) {
	t.Helper()
	gw, srv, clock := setupGatewayTest(t)
	return compliance.NewService(gw), srv, clock
}

func setupGatewayTest(t *testing.T) (*client.Gateway, *devserver.Server, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	srv := &devserver.Server{JWTSecretKey: "test-secret-key-for-testing-only", TokenExpiry: 365 * 24 * time.Hour, Clock: clock}
	srv.EnsureDefaults()
	if err := srv.AddUser("admin", "password123"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	gw, err := client.NewGateway(ts.URL)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	if err := gw.Login(context.Background(), "admin", "password123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return gw, srv, clock
}

func TestService_CRUD(t *testing.T) {
	svc, _, _ := setupServiceTest(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, compliance.Supplier{
		Name:             "Acme Knits",
		Category:         "knitting",
		ComplianceStatus: compliance.StatusPending,
		Documents:        map[string]string{"bsci_validity": "2025-06-30", "bsci_days_remaining": "180"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() returned no id")
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Acme Knits" || got.Documents["bsci_validity"] != "2025-06-30" || got.Documents["bsci_days_remaining"] != "180" {
		t.Errorf("Get() = %+v", got)
	}

	patched, err := svc.Update(ctx, created.ID, map[string]any{"compliance_status": compliance.StatusCompliant})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if patched.ComplianceStatus != compliance.StatusCompliant || patched.Name != "Acme Knits" {
		t.Errorf("Update() = %+v", patched)
	}

	replaced, err := svc.Replace(ctx, created.ID, compliance.Supplier{Name: "Acme Knitwear"})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if replaced.Name != "Acme Knitwear" || replaced.ComplianceStatus != "" {
		t.Errorf("Replace() = %+v", replaced)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = svc.Get(ctx, created.ID)
	if !errors.Is(err, compliance.ErrNotFound) || !client.IsNotFound(err) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestService_ListFilters(t *testing.T) {
	svc, srv, _ := setupServiceTest(t)
	srv.Seed(
		compliance.Supplier{Name: "Acme Knits", Category: "knitting", ComplianceStatus: compliance.StatusCompliant},
		compliance.Supplier{Name: "Beta Denim", Category: "denim", ComplianceStatus: compliance.StatusPending},
		compliance.Supplier{Name: "Delta Knitwear", Category: "knitting", ComplianceStatus: compliance.StatusPending},
	)
	ctx := context.Background()

	all, err := svc.List(ctx, compliance.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() = %d suppliers, want 3", len(all))
	}

	knit, err := svc.List(ctx, compliance.Filter{Category: "knitting", ComplianceStatus: compliance.StatusPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(knit) != 1 || knit[0].Name != "Delta Knitwear" {
		t.Errorf("filtered = %+v", knit)
	}
}

func TestService_ValidationErrorsPropagate(t *testing.T) {
	svc, _, _ := setupServiceTest(t)

	_, err := svc.Create(context.Background(), compliance.Supplier{Category: "knitting"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || !client.IsValidation(err) {
		t.Fatalf("Create() error = %v, want validation error", err)
	}
	if msgs := apiErr.FieldErrors["name"]; len(msgs) != 1 || msgs[0] != "This field is required." {
		t.Errorf("name errors = %v", msgs)
	}
}

func TestService_Attachments(t *testing.T) {
	svc, srv, _ := setupServiceTest(t)
	ctx := context.Background()
	ids := srv.Seed(compliance.Supplier{Name: "Acme Knits"})

	a, err := svc.CreateAttachment(ctx, ids[0], "fire drill report", client.File{
		Name:        "drill.pdf",
		ContentType: "application/pdf",
		Reader:      strings.NewReader("%PDF-1.4 drill"),
	})
	if err != nil {
		t.Fatalf("CreateAttachment() error = %v", err)
	}
	if a.Supplier != ids[0] || a.Description != "fire drill report" || !strings.HasSuffix(a.File, "drill.pdf") {
		t.Errorf("attachment = %+v", a)
	}
	if data, ok := srv.AttachmentData(a.ID); !ok || string(data) != "%PDF-1.4 drill" {
		t.Errorf("stored data = %q, %v", data, ok)
	}

	list, err := svc.ListAttachments(ctx, ids[0])
	if err != nil {
		t.Fatalf("ListAttachments() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("ListAttachments() = %+v", list)
	}

	_, err = svc.CreateAttachment(ctx, "missing", "", client.File{Name: "x.pdf", Reader: strings.NewReader("x")})
	if !client.IsValidation(err) {
		t.Errorf("unknown supplier error = %v, want validation error", err)
	}
}

func TestService_AgreementStatusAndStats(t *testing.T) {
	svc, srv, _ := setupServiceTest(t)
	ctx := context.Background()
	ids := srv.Seed(
		compliance.Supplier{Name: "Acme", Documents: map[string]string{"wrap_validity": "2024-12-01"}},
		compliance.Supplier{Name: "Beta", Documents: map[string]string{"wrap_validity": "2025-01-20"}},
	)

	updated, err := svc.UpdateAgreementStatus(ctx, ids[0], compliance.AgreementSigned)
	if err != nil {
		t.Fatalf("UpdateAgreementStatus() error = %v", err)
	}
	if updated.AgreementStatus != compliance.AgreementSigned {
		t.Errorf("agreement = %q", updated.AgreementStatus)
	}
	if _, err := svc.UpdateAgreementStatus(ctx, ids[0], "lost"); !client.IsValidation(err) {
		t.Errorf("invalid status error = %v", err)
	}
	if _, err := svc.UpdateAgreementStatus(ctx, "missing", compliance.AgreementSigned); !errors.Is(err, compliance.ErrNotFound) {
		t.Errorf("unknown supplier error = %v", err)
	}

	stats, err := svc.DashboardStats(ctx)
	if err != nil {
		t.Fatalf("DashboardStats() error = %v", err)
	}
	if stats.TotalSuppliers != 2 || stats.ExpiredDocuments != 1 || stats.ExpiringSoon != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByAgreementStatus[compliance.AgreementSigned] != 1 {
		t.Errorf("ByAgreementStatus = %v", stats.ByAgreementStatus)
	}
}

func TestService_ListAcceptsPaginatedEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 2, "next": null, "results": [{"id": 1, "name": "A"}, {"id": 2, "name": "B"}]}`))
	}))
	defer ts.Close()

	gw, err := client.NewGateway(ts.URL)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	list, err := compliance.NewService(gw).List(context.Background(), compliance.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "1" || list[1].Name != "B" {
		t.Errorf("List() = %+v", list)
	}
}
