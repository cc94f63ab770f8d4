// Package roster mirrors the shared member collection into a local ordered
// list, lets the top director reorder it optimistically, and persists
// member changes.
package roster

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/shared/errors"
)

// OrderField is the document field holding a member's position.
const OrderField = "order"

// Record is one roster member.
type Record struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ExternalID     string    `json:"externalId"`
	ContactHandle  string    `json:"contactHandle"`
	Rank           auth.Role `json:"rank"`
	RadioCallsign  string    `json:"radioCallsign"`
	Qualifications string    `json:"qualifications"`
	JoinDate       string    `json:"joinDate"`
	// Order is the stored position, or -1 when the document has none.
	Order int `json:"order"`
}

// FromDocument decodes a member document. Unknown ranks become the default rank.
func FromDocument(doc docstore.Document) Record {
	str := func(key string) string {
		s, _ := doc.Fields[key].(string)
		return s
	}
	return Record{
		ID:             doc.ID,
		Name:           str("name"),
		ExternalID:     str("externalId"),
		ContactHandle:  str("contactHandle"),
		Rank:           auth.ParseRole(str("rank")),
		RadioCallsign:  str("radioCallsign"),
		Qualifications: str("qualifications"),
		JoinDate:       str("joinDate"),
		Order:          orderOf(doc.Fields[OrderField]),
	}
}

func orderOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return -1
}

// MemberInput is the editable part of a record.
type MemberInput struct {
	Name           string `json:"name"`
	ExternalID     string `json:"externalId"`
	ContactHandle  string `json:"contactHandle"`
	Rank           string `json:"rank"`
	RadioCallsign  string `json:"radioCallsign"`
	Qualifications string `json:"qualifications"`
	JoinDate       string `json:"joinDate"`
}

// Normalize trims every field.
func (in *MemberInput) Normalize() {
	for _, f := range []*string{
		&in.Name, &in.ExternalID, &in.ContactHandle, &in.Rank,
		&in.RadioCallsign, &in.Qualifications, &in.JoinDate,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// Validate checks required fields and the rank.
func (in MemberInput) Validate() error {
	details := make(map[string]string)
	if in.Name == "" {
		details["name"] = "required"
	}
	if in.ExternalID == "" {
		details["externalId"] = "required"
	}
	if in.Rank == "" {
		details["rank"] = "required"
	} else if _, ok := auth.LookupRole(in.Rank); !ok {
		details["rank"] = "unknown rank"
	}
	if len(details) > 0 {
		return errors.Validation("invalid member", details)
	}
	return nil
}

func (in MemberInput) fields() map[string]any {
	return map[string]any{
		"name":           in.Name,
		"externalId":     in.ExternalID,
		"contactHandle":  in.ContactHandle,
		"rank":           in.Rank,
		"radioCallsign":  in.RadioCallsign,
		"qualifications": in.Qualifications,
		"joinDate":       in.JoinDate,
	}
}

// Filter returns the records whose name, external id, rank, callsign or
// contact handle contains query, ignoring case. The input is not modified.
func Filter(records []Record, query string) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q == "" || matches(r, q) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r Record, q string) bool {
	for _, v := range []string{r.Name, r.ExternalID, string(r.Rank), r.RadioCallsign, r.ContactHandle} {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}
