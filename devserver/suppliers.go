package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	compliance "github.com/iam-ankon/TADREACT-sub005"
	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

const maxUploadMemory = 32 << 20

var (
	complianceStatuses = []string{
		compliance.StatusCompliant, compliance.StatusNonCompliant,
		compliance.StatusPending, compliance.StatusUnderReview,
	}
	agreementStatuses = []string{
		compliance.AgreementPending, compliance.AgreementSent, compliance.AgreementSigned,
		compliance.AgreementExpired, compliance.AgreementRejected,
	}
)

type upload struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

type storedAttachment struct {
	compliance.Attachment
	ContentType string
	Data        []byte
}

// putLocked stores sup, assigning an id and timestamps. s.mu must be held.
func (s *Server) putLocked(sup compliance.Supplier) compliance.ID {
	now := s.Clock.Now().UTC().Format(time.RFC3339)
	if sup.ID == "" {
		sup.ID = compliance.ID(uuid.NewString())
	}
	if prev, ok := s.suppliers[sup.ID]; ok {
		sup.CreatedAt = prev.CreatedAt
	} else {
		sup.CreatedAt = now
		s.order = append(s.order, sup.ID)
	}
	sup.UpdatedAt = now
	s.suppliers[sup.ID] = sup
	return sup.ID
}

// Supplier returns a stored supplier, for tests
func (s *Server) Supplier(id compliance.ID) (compliance.Supplier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sup, ok := s.suppliers[id]
	return sup, ok
}

// AttachmentData returns the uploaded bytes of an attachment
func (s *Server) AttachmentData(id compliance.ID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attachments {
		if a.ID == id {
			return a.Data, true
		}
	}
	return nil, false
}

func (s *Server) allSuppliers() []compliance.Supplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]compliance.Supplier, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.suppliers[id])
	}
	return out
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readBody returns the request's fields as a generic object, from JSON or
// multipart form data, plus any uploaded files
func readBody(r *http.Request) (map[string]any, []upload, error) {
	if !isMultipart(r) {
		fields := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return fields, nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	fields := map[string]any{}
	for k, vs := range r.MultipartForm.Value {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	var uploads []upload
	for field, headers := range r.MultipartForm.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				return nil, nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, nil, err
			}
			uploads = append(uploads, upload{
				Field:       field,
				Name:        h.Filename,
				ContentType: h.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return fields, uploads, nil
}

func toSupplier(fields map[string]any) (compliance.Supplier, error) {
	var sup compliance.Supplier
	data, err := json.Marshal(fields)
	if err != nil {
		return sup, err
	}
	err = json.Unmarshal(data, &sup)
	return sup, err
}

func validateSupplier(sup compliance.Supplier) fieldErrors {
	errs := fieldErrors{}
	if strings.TrimSpace(sup.Name) == "" {
		errs.add("name", "This field is required.")
	}
	if sup.ComplianceStatus != "" && !slices.Contains(complianceStatuses, sup.ComplianceStatus) {
		errs.add("compliance_status", fmt.Sprintf("%q is not a valid choice.", sup.ComplianceStatus))
	}
	if sup.AgreementStatus != "" && !slices.Contains(agreementStatuses, sup.AgreementStatus) {
		errs.add("agreement_status", fmt.Sprintf("%q is not a valid choice.", sup.AgreementStatus))
	}
	for _, p := range compliance.DocumentPairs() {
		v := sup.Documents[p.Validity]
		if v == "" {
			continue
		}
		if _, ok := expiry.ParseDate(v, time.UTC); !ok {
			errs.add(p.Validity, "Date has wrong format. Use YYYY-MM-DD.")
		}
	}
	return errs
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (compliance.Supplier, bool) {
	id := compliance.ID(mux.Vars(r)["id"])
	sup, ok := s.Supplier(id)
	if !ok {
		errorResponse(w, "Not found.", http.StatusNotFound)
	}
	return sup, ok
}

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := compliance.Filter{
		Search:           q.Get("search"),
		Category:         q.Get("category"),
		ComplianceStatus: q.Get("compliance_status"),
	}
	writeJSON(w, http.StatusOK, f.Apply(s.allSuppliers()))
}

func (s *Server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	fields, uploads, err := readBody(r)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sup, err := toSupplier(fields)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sup.ID = ""
	if validateSupplier(sup).send(w) {
		return
	}

	s.mu.Lock()
	id := s.putLocked(sup)
	s.attachUploadsLocked(id, uploads)
	out := s.suppliers[id]
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	if sup, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, sup)
	}
}

func (s *Server) handleReplaceSupplier(w http.ResponseWriter, r *http.Request) {
	prev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	fields, uploads, err := readBody(r)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sup, err := toSupplier(fields)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sup.ID = prev.ID
	if validateSupplier(sup).send(w) {
		return
	}

	s.mu.Lock()
	s.putLocked(sup)
	s.attachUploadsLocked(sup.ID, uploads)
	out := s.suppliers[sup.ID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePatchSupplier(w http.ResponseWriter, r *http.Request) {
	prev, ok := s.lookup(w, r)
	if !ok {
		return
	}
	changes, uploads, err := readBody(r)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Overlay the changes on the stored record's wire form
	data, err := json.Marshal(prev)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	merged := map[string]any{}
	json.Unmarshal(data, &merged)
	for k, v := range changes {
		merged[k] = v
	}
	sup, err := toSupplier(merged)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	sup.ID = prev.ID
	if validateSupplier(sup).send(w) {
		return
	}

	s.mu.Lock()
	s.putLocked(sup)
	s.attachUploadsLocked(sup.ID, uploads)
	out := s.suppliers[sup.ID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSupplier(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.suppliers, sup.ID)
	s.order = slices.DeleteFunc(s.order, func(id compliance.ID) bool { return id == sup.ID })
	s.attachments = slices.DeleteFunc(s.attachments, func(a storedAttachment) bool { return a.Supplier == sup.ID })
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAgreementStatus(w http.ResponseWriter, r *http.Request) {
	sup, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		AgreementStatus string `json:"agreement_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !slices.Contains(agreementStatuses, req.AgreementStatus) {
		writeJSON(w, http.StatusBadRequest, fieldErrors{
			"agreement_status": {fmt.Sprintf("%q is not a valid choice.", req.AgreementStatus)},
		})
		return
	}

	sup.AgreementStatus = req.AgreementStatus
	s.mu.Lock()
	s.putLocked(sup)
	out := s.suppliers[sup.ID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBulkReminders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SupplierIDs []compliance.ID `json:"supplier_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	targets := req.SupplierIDs
	if len(targets) == 0 {
		for _, d := range compliance.ExpiringDocuments(s.allSuppliers(), s.Clock.Now(), compliance.ExpiringWindow) {
			if !slices.Contains(targets, d.SupplierID) {
				targets = append(targets, d.SupplierID)
			}
		}
	}

	errs := fieldErrors{}
	for _, id := range targets {
		if _, ok := s.Supplier(id); !ok {
			errs.add("supplier_ids", fmt.Sprintf("Invalid pk %q - object does not exist.", id))
		}
	}
	if errs.send(w) {
		return
	}

	s.mu.Lock()
	s.remindersSent += len(targets)
	s.mu.Unlock()
	s.Logger.Info("sent bulk reminders", "count", len(targets))

	writeJSON(w, http.StatusOK, compliance.ReminderResult{
		Sent:    len(targets),
		Message: fmt.Sprintf("Reminders sent to %d suppliers.", len(targets)),
	})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, compliance.ComputeStats(s.allSuppliers(), s.Clock.Now()))
}

// attachUploadsLocked stores uploaded files as attachments of supplier
func (s *Server) attachUploadsLocked(supplier compliance.ID, uploads []upload) {
	for _, u := range uploads {
		s.storeAttachmentLocked(supplier, "", u)
	}
}

func (s *Server) storeAttachmentLocked(supplier compliance.ID, description string, u upload) compliance.Attachment {
	a := compliance.Attachment{
		ID:          compliance.ID(uuid.NewString()),
		Supplier:    supplier,
		File:        "/media/supplier_attachments/" + u.Name,
		Description: description,
		UploadedAt:  s.Clock.Now().UTC().Format(time.RFC3339),
	}
	s.attachments = append(s.attachments, storedAttachment{Attachment: a, ContentType: u.ContentType, Data: u.Data})
	return a
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	supplier := compliance.ID(r.URL.Query().Get("supplier"))
	s.mu.Lock()
	out := []compliance.Attachment{}
	for _, a := range s.attachments {
		if supplier == "" || a.Supplier == supplier {
			out = append(out, a.Attachment)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAttachment(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		errorResponse(w, "Unsupported media type, expected multipart/form-data.", http.StatusUnsupportedMediaType)
		return
	}
	fields, uploads, err := readBody(r)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	supplier := compliance.ID(fmt.Sprint(fields["supplier"]))
	errs := fieldErrors{}
	if _, ok := s.Supplier(supplier); !ok {
		errs.add("supplier", fmt.Sprintf("Invalid pk %q - object does not exist.", supplier))
	}
	var file *upload
	for i := range uploads {
		if uploads[i].Field == "file" {
			file = &uploads[i]
			break
		}
	}
	if file == nil {
		errs.add("file", "No file was submitted.")
	}
	if errs.send(w) {
		return
	}

	description, _ := fields["description"].(string)
	s.mu.Lock()
	a := s.storeAttachmentLocked(supplier, description, *file)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, a)
}
