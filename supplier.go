package compliance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

// ErrNotFound is wrapped by lookups of records the backend does not have
var ErrNotFound = errors.New("not found")

// Compliance status values used by the backend
const (
	StatusCompliant    = "compliant"
	StatusNonCompliant = "non_compliant"
	StatusPending      = "pending"
	StatusUnderReview  = "under_review"
)

// Agreement status values
const (
	AgreementPending  = "pending"
	AgreementSent     = "sent"
	AgreementSigned   = "signed"
	AgreementExpired  = "expired"
	AgreementRejected = "rejected"
)

// Document is a certificate or license tracked with a validity date
type Document struct {
	Key   string // field prefix, e.g. "fire_license"
	Label string
}

// TrackedDocuments lists every document with a validity/days pair
var TrackedDocuments = []Document{
	{"trade_license", "Trade License"},
	{"factory_license", "Factory License"},
	{"fire_license", "Fire License"},
	{"fire_safety_certificate", "Fire Safety Certificate"},
	{"environmental_clearance", "Environmental Clearance"},
	{"boiler_certificate", "Boiler Certificate"},
	{"bsci", "BSCI Audit"},
	{"sedex", "SEDEX / SMETA"},
	{"wrap", "WRAP Certification"},
	{"oeko_tex", "OEKO-TEX"},
	{"gots", "GOTS"},
	{"grs", "GRS"},
	{"csr_policy", "CSR Policy"},
}

// DocumentPairs returns the validity/days pairs of TrackedDocuments
func DocumentPairs() []expiry.Pair {
	prefixes := make([]string, len(TrackedDocuments))
	for i, d := range TrackedDocuments {
		prefixes[i] = d.Key
	}
	return expiry.PairsFor(prefixes...)
}

// ID is a record identifier. The backend may send numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers so integer primary keys
// round-trip unchanged.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

// Supplier is a factory record. Document validity dates and their derived
// day counts live in Documents keyed by field name
// (<key>_validity, <key>_days_remaining). Fields the client does not model
// are kept in Extra and sent back unchanged.
type Supplier struct {
	ID               ID     `json:"id,omitempty"`
	Name             string `json:"name"`
	Category         string `json:"category,omitempty"`
	ContactPerson    string `json:"contact_person,omitempty"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	Country          string `json:"country,omitempty"`
	ComplianceStatus string `json:"compliance_status,omitempty"`
	AgreementStatus  string `json:"agreement_status,omitempty"`
	CSRActivities    string `json:"csr_activities,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`

	Documents expiry.Fields  `json:"-"`
	Extra     map[string]any `json:"-"`
}

// supplierFields is Supplier without its custom marshalers
type supplierFields Supplier

var coreKeys = map[string]bool{
	"id": true, "name": true, "category": true, "contact_person": true,
	"email": true, "phone": true, "address": true, "country": true,
	"compliance_status": true, "agreement_status": true, "csr_activities": true,
	"created_at": true, "updated_at": true,
}

var documentKeys = func() map[string]bool {
	out := map[string]bool{}
	for _, p := range DocumentPairs() {
		out[p.Validity] = true
		out[p.Days] = true
	}
	return out
}()

func (s Supplier) MarshalJSON() ([]byte, error) {
	core, err := json.Marshal(supplierFields(s))
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(core, &out); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if !coreKeys[k] && !documentKeys[k] {
			out[k] = v
		}
	}
	for _, p := range DocumentPairs() {
		validity, ok := s.Documents[p.Validity]
		if !ok {
			continue
		}
		// Date fields reject "", so empty dates go out as null
		if validity == "" {
			out[p.Validity] = nil
			out[p.Days] = nil
			continue
		}
		out[p.Validity] = validity
		if n, err := strconv.Atoi(s.Documents[p.Days]); err == nil {
			out[p.Days] = n
		} else {
			out[p.Days] = nil
		}
	}
	return json.Marshal(out)
}

func (s *Supplier) UnmarshalJSON(data []byte) error {
	var core supplierFields
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Supplier(core)
	s.Documents = expiry.Fields{}
	for k, v := range raw {
		switch {
		case coreKeys[k]:
		case documentKeys[k]:
			s.Documents[k] = scalarString(v)
		default:
			if s.Extra == nil {
				s.Extra = map[string]any{}
			}
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
			s.Extra[k] = val
		}
	}
	return nil
}

// scalarString renders a JSON string, number or null as a plain string
func scalarString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	}
	return string(v)
}

// coreStrings maps the wire names of the modelled string fields to the
// fields themselves
func (s *Supplier) coreStrings() map[string]*string {
	return map[string]*string{
		"name":              &s.Name,
		"category":          &s.Category,
		"contact_person":    &s.ContactPerson,
		"email":             &s.Email,
		"phone":             &s.Phone,
		"address":           &s.Address,
		"country":           &s.Country,
		"compliance_status": &s.ComplianceStatus,
		"agreement_status":  &s.AgreementStatus,
		"csr_activities":    &s.CSRActivities,
		"created_at":        &s.CreatedAt,
		"updated_at":        &s.UpdatedAt,
	}
}

// Fields flattens the supplier into form state. Extra values that are not
// strings stay out of the form; Changes leaves them untouched.
func (s Supplier) Fields() expiry.Fields {
	out := expiry.Fields{"name": s.Name}
	for k, v := range s.coreStrings() {
		if *v != "" {
			out[k] = *v
		}
	}
	if s.ID != "" {
		out["id"] = s.ID.String()
	}
	for k, v := range s.Extra {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	for k, v := range s.Documents {
		out[k] = v
	}
	return out
}

// SupplierFromFields rebuilds a supplier from form state. Unknown fields
// become Extra string values.
func SupplierFromFields(f expiry.Fields) Supplier {
	s := Supplier{Documents: expiry.Fields{}}
	core := s.coreStrings()
	for k, v := range f {
		switch {
		case k == "id":
			s.ID = ID(v)
		case core[k] != nil:
			*core[k] = v
		case documentKeys[k]:
			s.Documents[k] = v
		default:
			if s.Extra == nil {
				s.Extra = map[string]any{}
			}
			s.Extra[k] = v
		}
	}
	return s
}

// Changes returns the wire fields of s that differ from base, plus every
// days remaining value so recomputed counts are always sent. Fields only
// base carries, such as non-string extras, are left out.
func (s Supplier) Changes(base Supplier) (map[string]any, error) {
	next, err := wireFields(s)
	if err != nil {
		return nil, err
	}
	prev, err := wireFields(base)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	for k, v := range next {
		old, ok := prev[k]
		if !ok || !reflect.DeepEqual(old, v) {
			out[k] = v
		}
	}
	// Core strings are omitted when empty, so a cleared one goes out as ""
	for k := range prev {
		if _, ok := next[k]; !ok && coreKeys[k] {
			out[k] = ""
		}
	}
	for _, p := range DocumentPairs() {
		if v, ok := next[p.Days]; ok {
			out[p.Days] = v
		}
	}
	delete(out, "id")
	delete(out, "created_at")
	delete(out, "updated_at")
	return out, nil
}

// wireFields is the decoded JSON object s marshals to
func wireFields(s Supplier) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DocumentStatus is the state of one tracked document on one supplier
type DocumentStatus struct {
	SupplierID    ID
	Supplier      string
	Document      Document
	Validity      string
	DaysRemaining int
}

// Expired reports whether the validity date has passed
func (d DocumentStatus) Expired() bool { return d.DaysRemaining < 0 }

// DocumentStatuses computes the live status of every dated document as of
// now. Stored day counts are ignored.
func (s Supplier) DocumentStatuses(now time.Time) []DocumentStatus {
	var out []DocumentStatus
	for _, d := range TrackedDocuments {
		validity := s.Documents[d.Key+expiry.ValiditySuffix]
		days, err := strconv.Atoi(expiry.DaysRemaining(validity, now))
		if err != nil {
			continue
		}
		out = append(out, DocumentStatus{
			SupplierID:    s.ID,
			Supplier:      s.Name,
			Document:      d,
			Validity:      validity,
			DaysRemaining: days,
		})
	}
	return out
}

// LookupDocument finds a tracked document by key or label, case-insensitively
func LookupDocument(name string) (Document, bool) {
	for _, d := range TrackedDocuments {
		if strings.EqualFold(d.Key, name) || strings.EqualFold(d.Label, name) {
			return d, true
		}
	}
	return Document{}, false
}
