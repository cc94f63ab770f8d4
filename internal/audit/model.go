// Package audit keeps the append-only, hash-chained record of operator actions.
package audit

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/psp-hub/platform/internal/auth"
)

// Actor used when an action is recorded without an identity.
const (
	SystemActorName = "Sistema"
	SystemActorRole = "N/A"
)

// Session actions.
const (
	ActionLogin  = "Iniciou sessão"
	ActionLogout = "Encerrou a sessão (Logout)"
)

// MemberAdded is the action recorded when a member is registered.
func MemberAdded(name string) string { return "Registou novo membro: " + name }

// MemberEdited is the action recorded when a member record changes.
func MemberEdited(name string) string { return "Editou o membro: " + name }

// MemberRemoved is the action recorded when a member is deleted.
func MemberRemoved(name string) string { return "Removeu o membro: " + name }

// Entry is one immutable audit record. Sequence, PrevHash and Hash are
// assigned by the repository on append.
type Entry struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	ActorName string    `json:"actorName"`
	ActorRole string    `json:"actorRole"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	LocalDate string    `json:"localDate"`
	LocalTime string    `json:"localTime"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prevHash,omitempty"`
}

// NewEntry builds an unsealed entry for actor at the given instant. A nil
// actor is recorded as the system. Local date and time are rendered in loc
// as dd/mm/yyyy and HH:MM.
func NewEntry(actor *auth.Identity, action string, at time.Time, loc *time.Location) *Entry {
	if loc == nil {
		loc = time.UTC
	}
	// Postgres keeps microseconds; the hash must survive a round trip.
	at = at.UTC().Truncate(time.Microsecond)

	e := &Entry{
		ID:        newEntryID(at),
		ActorName: SystemActorName,
		ActorRole: SystemActorRole,
		Action:    action,
		Timestamp: at,
		LocalDate: at.In(loc).Format("02/01/2006"),
		LocalTime: at.In(loc).Format("15:04"),
	}
	if actor != nil {
		e.ActorName = actor.DisplayName
		e.ActorRole = actor.Role.String()
	}
	return e
}

// seal links the entry after prevHash at position seq.
func (e *Entry) seal(seq int64, prevHash string) {
	e.Sequence = seq
	e.PrevHash = prevHash
	e.Hash = e.ComputeHash()
}

// ComputeHash returns the SHA-256 of the entry's canonical JSON form,
// excluding the stored hash itself.
func (e *Entry) ComputeHash() string {
	data := map[string]any{
		"id":        e.ID,
		"sequence":  e.Sequence,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prevHash":  e.PrevHash,
		"actorName": e.ActorName,
		"actorRole": e.ActorRole,
		"action":    e.Action,
		"localDate": e.LocalDate,
		"localTime": e.LocalTime,
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether the stored hash matches the content.
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.ComputeHash()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newEntryID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// canonicalJSON produces JSON with sorted map keys so hashes do not depend
// on map iteration order or on how a backend stored the document.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}
