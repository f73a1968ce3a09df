package compliance

import (
	"sort"
	"time"
)

// ExpiringWindow is how many days ahead a document counts as expiring soon
const ExpiringWindow = 30

// Stats is the dashboard summary, both as computed locally and as served
// by the backend's dashboard endpoint.
type Stats struct {
	TotalSuppliers       int            `json:"total_suppliers"`
	ByComplianceStatus   map[string]int `json:"by_compliance_status"`
	ByAgreementStatus    map[string]int `json:"by_agreement_status"`
	ByCategory           map[string]int `json:"by_category"`
	ExpiredDocuments     int            `json:"expired_documents"`
	ExpiringSoon         int            `json:"expiring_soon"`
	SuppliersWithExpired int            `json:"suppliers_with_expired"`
}

// ComputeStats derives dashboard numbers from a supplier list as of now.
// Day counts are recomputed from validity dates rather than trusted.
func ComputeStats(suppliers []Supplier, now time.Time) Stats {
	st := Stats{
		TotalSuppliers:     len(suppliers),
		ByComplianceStatus: map[string]int{},
		ByAgreementStatus:  map[string]int{},
		ByCategory:         map[string]int{},
	}
	for _, s := range suppliers {
		st.ByComplianceStatus[orUnknown(s.ComplianceStatus)]++
		st.ByAgreementStatus[orUnknown(s.AgreementStatus)]++
		st.ByCategory[orUnknown(s.Category)]++

		hasExpired := false
		for _, d := range s.DocumentStatuses(now) {
			switch {
			case d.Expired():
				st.ExpiredDocuments++
				hasExpired = true
			case d.DaysRemaining <= ExpiringWindow:
				st.ExpiringSoon++
			}
		}
		if hasExpired {
			st.SuppliersWithExpired++
		}
	}
	return st
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// ExpiringDocuments lists documents that expired or expire within the
// given number of days, soonest first.
func ExpiringDocuments(suppliers []Supplier, now time.Time, within int) []DocumentStatus {
	var out []DocumentStatus
	for _, s := range suppliers {
		for _, d := range s.DocumentStatuses(now) {
			if d.DaysRemaining <= within {
				out = append(out, d)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DaysRemaining < out[j].DaysRemaining
	})
	return out
}
