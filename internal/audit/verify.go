package audit

import "fmt"

// VerifyResult contains detailed verification results
type VerifyResult struct {
	Valid          bool                `json:"valid"`
	Checked        int                 `json:"checked"`
	ContentValid   int                 `json:"contentValid"`
	ContentInvalid int                 `json:"contentInvalid"`
	LinkageValid   int                 `json:"linkageValid"`
	LinkageInvalid int                 `json:"linkageInvalid"`
	Violations     []string            `json:"violations,omitempty"`
	Entries        []VerifyEntryResult `json:"entries,omitempty"`
}

// VerifyEntryResult is the verdict for a single entry.
type VerifyEntryResult struct {
	ID            string `json:"id"`
	Sequence      int64  `json:"sequence"`
	Hash          string `json:"hash"`
	ComputedHash  string `json:"computedHash,omitempty"`
	PrevHash      string `json:"prevHash"`
	Action        string `json:"action"`
	Valid         bool   `json:"valid"`
	ContentValid  bool   `json:"contentValid"`
	LinkageValid  bool   `json:"linkageValid"`
	ViolationType string `json:"violationType,omitempty"`
}

// verifyEntries checks entries given newest first. Each entry's hash must
// match its content, and must equal the prevHash of the entry after it.
func verifyEntries(entries []*Entry, includeDetails bool) *VerifyResult {
	result := &VerifyResult{Valid: true}

	var expected string // prevHash of the entry that follows in time
	for i, e := range entries {
		v := VerifyEntryResult{
			ID:           e.ID,
			Sequence:     e.Sequence,
			Hash:         e.Hash,
			PrevHash:     e.PrevHash,
			Action:       e.Action,
			Valid:        true,
			ContentValid: true,
			LinkageValid: true,
		}

		v.ComputedHash = e.ComputeHash()
		if v.ComputedHash != e.Hash {
			v.ContentValid = false
			v.Valid = false
			v.ViolationType = "content"
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("CONTENT TAMPERED: entry %s (seq %d) does not match its hash", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		if i > 0 {
			if e.Hash != expected {
				v.LinkageValid = false
				v.Valid = false
				if v.ViolationType == "content" {
					v.ViolationType = "both"
				} else {
					v.ViolationType = "linkage"
				}
				result.LinkageInvalid++
				result.Valid = false
				result.Violations = append(result.Violations,
					fmt.Sprintf("CHAIN BROKEN: entry %s (seq %d) is not the predecessor of seq %d", e.ID, e.Sequence, entries[i-1].Sequence))
			} else {
				result.LinkageValid++
			}
		}

		if includeDetails {
			result.Entries = append(result.Entries, v)
		}
		expected = e.PrevHash
		result.Checked++
	}

	return result
}
