package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iam-ankon/TADREACT-sub005/client"
	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

// Editor edits one supplier record. Derived day counts are kept fresh by
// an expiry.Form and recomputed once more right before Submit.
type Editor struct {
	svc    *Service
	form   *expiry.Form
	logger *slog.Logger

	mu    sync.Mutex
	id    ID
	base  Supplier // record as last loaded or saved
	files []client.File
}

// NewEditor creates an editor for a new record. Call Load to edit an
// existing one.
func NewEditor(svc *Service, opts ...expiry.FormOption) *Editor {
	return &Editor{
		svc:    svc,
		form:   expiry.NewForm(DocumentPairs(), opts...),
		logger: slog.Default(),
	}
}

// Form exposes the underlying form state
func (e *Editor) Form() *expiry.Form {
	return e.form
}

// ID returns the id of the record being edited, empty for a new record
func (e *Editor) ID() ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Load fetches a supplier and recomputes its day counts
func (e *Editor) Load(ctx context.Context, id ID) error {
	s, err := e.svc.Get(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.id = s.ID
	e.base = *s
	e.files = nil
	e.mu.Unlock()

	e.form.Load(s.Fields())
	return nil
}

// Set edits one field; see expiry.Form.Set
func (e *Editor) Set(field, value string) error {
	return e.form.Set(field, value)
}

// Attach queues files to be sent with the next Submit
func (e *Editor) Attach(files ...client.File) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, files...)
}

// Watch runs the recompute scheduler for this editor until ctx is done
func (e *Editor) Watch(ctx context.Context, opts ...expiry.SchedulerOption) error {
	return expiry.NewScheduler(e.form, opts...).Run(ctx)
}

// Submit creates the record, or sends the changed fields of a loaded one
// with PATCH, with freshly computed day counts. Fields the form does not
// hold are left as the backend has them. Queued files are sent as
// multipart form data; their readers are consumed whether or not the
// submit succeeds.
func (e *Editor) Submit(ctx context.Context) (*Supplier, error) {
	e.mu.Lock()
	id := e.id
	base := e.base
	files := e.files
	e.files = nil
	e.mu.Unlock()

	sup := SupplierFromFields(e.form.PrepareSubmit())
	sup.ID = id

	var out *Supplier
	var err error
	if id == "" {
		out, err = e.svc.Create(ctx, sup, files...)
	} else {
		var changes map[string]any
		if changes, err = sup.Changes(base); err != nil {
			return nil, fmt.Errorf("failed to diff supplier %s: %w", id, err)
		}
		out, err = e.svc.Update(ctx, id, changes, files...)
	}
	if err != nil {
		if client.IsValidation(err) {
			e.logger.Info("supplier rejected by backend", "id", id, "err", err)
		}
		return nil, err
	}

	e.mu.Lock()
	e.id = out.ID
	e.base = *out
	e.mu.Unlock()

	e.form.Load(out.Fields())
	return out, nil
}
