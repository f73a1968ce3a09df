package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/iam-ankon/TADREACT-sub005/client"
)

// API paths, relative to the gateway's base URL
const (
	SuppliersPath        = "/api/suppliers/"
	AttachmentsPath      = "/api/supplier-attachments/"
	BulkRemindersPath    = "/api/suppliers/send-bulk-reminders/"
	DashboardStatsPath   = "/api/suppliers/dashboard-stats/"
	agreementStatusRoute = "update-agreement-status/"
)

// Requester is the part of client.Gateway the service needs
type Requester interface {
	DoJSON(ctx context.Context, method, path string, in, out any, opts ...client.RequestOption) error
}

// Service wraps the supplier endpoints of the backend
type Service struct {
	api Requester
}

func NewService(api Requester) *Service {
	return &Service{api: api}
}

func supplierPath(id ID) string {
	return SuppliersPath + url.PathEscape(id.String()) + "/"
}

// notFound wraps a 404 from the backend with ErrNotFound
func notFound(err error, what string, id ID) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w: %w", what, id, ErrNotFound, err)
	}
	return err
}

// List fetches suppliers matching f. Filtering happens on the server; both
// plain arrays and paginated {"results": [...]} envelopes are accepted.
func (s *Service) List(ctx context.Context, f Filter) ([]Supplier, error) {
	var raw json.RawMessage
	if err := s.api.DoJSON(ctx, http.MethodGet, SuppliersPath, nil, &raw, client.WithQuery(f.Query())); err != nil {
		return nil, err
	}
	return decodeList[Supplier](raw)
}

func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []T
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("invalid list response: %w", err)
		}
		return items, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("invalid list response: %w", err)
	}
	return page.Results, nil
}

// Get fetches one supplier
func (s *Service) Get(ctx context.Context, id ID) (*Supplier, error) {
	var out Supplier
	if err := s.api.DoJSON(ctx, http.MethodGet, supplierPath(id), nil, &out); err != nil {
		return nil, notFound(err, "supplier", id)
	}
	return &out, nil
}

// Create adds a supplier. Files, when given, are sent with the record as
// multipart form data.
func (s *Service) Create(ctx context.Context, sup Supplier, files ...client.File) (*Supplier, error) {
	var out Supplier
	if err := s.api.DoJSON(ctx, http.MethodPost, SuppliersPath, sup, &out, client.WithFiles(files...)); err != nil {
		return nil, err
	}
	return &out, nil
}

// Replace sends the full record with PUT
func (s *Service) Replace(ctx context.Context, id ID, sup Supplier, files ...client.File) (*Supplier, error) {
	var out Supplier
	if err := s.api.DoJSON(ctx, http.MethodPut, supplierPath(id), sup, &out, client.WithFiles(files...)); err != nil {
		return nil, notFound(err, "supplier", id)
	}
	return &out, nil
}

// Update applies a partial update with PATCH. Files, when given, are sent
// with the changes as multipart form data.
func (s *Service) Update(ctx context.Context, id ID, changes map[string]any, files ...client.File) (*Supplier, error) {
	var out Supplier
	if err := s.api.DoJSON(ctx, http.MethodPatch, supplierPath(id), changes, &out, client.WithFiles(files...)); err != nil {
		return nil, notFound(err, "supplier", id)
	}
	return &out, nil
}

// Delete removes a supplier
func (s *Service) Delete(ctx context.Context, id ID) error {
	if err := s.api.DoJSON(ctx, http.MethodDelete, supplierPath(id), nil, nil); err != nil {
		return notFound(err, "supplier", id)
	}
	return nil
}

// Attachment is a file stored against a supplier
type Attachment struct {
	ID          ID     `json:"id,omitempty"`
	Supplier    ID     `json:"supplier"`
	File        string `json:"file,omitempty"`
	Description string `json:"description,omitempty"`
	UploadedAt  string `json:"uploaded_at,omitempty"`
}

// CreateAttachment uploads file for a supplier
func (s *Service) CreateAttachment(ctx context.Context, supplier ID, description string, file client.File) (*Attachment, error) {
	if file.Field == "" {
		file.Field = "file"
	}
	fields := map[string]string{"supplier": supplier.String()}
	if description != "" {
		fields["description"] = description
	}
	var out Attachment
	if err := s.api.DoJSON(ctx, http.MethodPost, AttachmentsPath, fields, &out, client.WithFiles(file)); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAttachments returns the attachments of one supplier
func (s *Service) ListAttachments(ctx context.Context, supplier ID) ([]Attachment, error) {
	var raw json.RawMessage
	q := url.Values{"supplier": {supplier.String()}}
	if err := s.api.DoJSON(ctx, http.MethodGet, AttachmentsPath, nil, &raw, client.WithQuery(q)); err != nil {
		return nil, err
	}
	return decodeList[Attachment](raw)
}

// UpdateAgreementStatus sets a supplier's agreement status
func (s *Service) UpdateAgreementStatus(ctx context.Context, id ID, status string) (*Supplier, error) {
	var out Supplier
	body := map[string]string{"agreement_status": status}
	if err := s.api.DoJSON(ctx, http.MethodPost, supplierPath(id)+agreementStatusRoute, body, &out); err != nil {
		return nil, notFound(err, "supplier", id)
	}
	return &out, nil
}

// ReminderResult is the backend's reply to a bulk reminder request
type ReminderResult struct {
	Sent    int    `json:"sent"`
	Message string `json:"message,omitempty"`
}

// SendBulkReminders asks the backend to email expiry reminders. An empty
// id list means every supplier with expiring documents.
func (s *Service) SendBulkReminders(ctx context.Context, ids ...ID) (*ReminderResult, error) {
	body := struct {
		SupplierIDs []ID `json:"supplier_ids"`
	}{SupplierIDs: ids}
	if body.SupplierIDs == nil {
		body.SupplierIDs = []ID{}
	}
	var out ReminderResult
	if err := s.api.DoJSON(ctx, http.MethodPost, BulkRemindersPath, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DashboardStats fetches the backend's aggregate numbers
func (s *Service) DashboardStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := s.api.DoJSON(ctx, http.MethodGet, DashboardStatsPath, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
