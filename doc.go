// Package compliance is a Go client for a supplier compliance backend used
// by garment-manufacturing supply chains to track factory certifications,
// licenses, fire safety and CSR records.
//
// The backend owns all business rules and persistence. This package provides
// typed access to its REST API, keeps the "days remaining" countdown of every
// tracked document fresh while a record is being edited, and derives list
// and dashboard views from fetched records.
//
// # Architecture
//
// Gateway: every call goes through a client.Gateway, which attaches the
// auth token and the CSRF token, replays a request once when the backend
// rejects a stale CSRF token, and reports 401 responses to a Navigator.
//
// Service: one method per backend endpoint (suppliers, attachments,
// agreement status, bulk reminders, dashboard stats).
//
// Editor: holds a record in an expiry.Form so that the derived
// *_days_remaining fields are recomputed on load, on edit, hourly, at
// midnight and right before submit.
//
// # Basic Usage
//
//	gw, err := client.NewGateway("http://localhost:8000",
//	    client.WithStore(store),
//	    client.WithNavigator(nav),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := gw.Login(ctx, "admin", "secret"); err != nil {
//	    return err
//	}
//
//	svc := compliance.NewService(gw)
//	suppliers, err := svc.List(ctx, compliance.Filter{ComplianceStatus: compliance.StatusCompliant})
//
// Editing a record:
//
//	ed := compliance.NewEditor(svc)
//	if err := ed.Load(ctx, id); err != nil {
//	    return err
//	}
//	ed.Set("fire_license_validity", "2026-03-31")
//	updated, err := ed.Submit(ctx)
//
// # Errors
//
// Backend errors surface as *client.APIError. Validation failures carry the
// backend's field errors verbatim; use client.IsValidation to detect them.
// Missing records wrap ErrNotFound.
//
// # Command Line
//
// cmd/supplierctl exposes the Service and the Editor from a terminal. Its
// watch command runs an Editor's scheduler and prints each recomputation.
//
// # Testing
//
// The devserver package serves the same wire contract in-process and is
// used by this package's tests through httptest.
package compliance
