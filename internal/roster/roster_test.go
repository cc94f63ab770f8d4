package roster

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psp-hub/platform/internal/audit"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/session"
	"github.com/psp-hub/platform/internal/shared/config"
	"github.com/psp-hub/platform/internal/shared/errors"
	secmiddleware "github.com/psp-hub/platform/internal/shared/middleware"
)

const members = "members"

var testRosterConfig = config.RosterConfig{
	Collection:          members,
	ResubscribeInterval: 10 * time.Millisecond,
	ResubscribeBurst:    1,
}

// spyStore counts every backing-store call.
type spyStore struct {
	*docstore.Memory
	mu        sync.Mutex
	calls     int
	failBatch error
	offline   atomic.Bool
}

func newSpyStore() *spyStore {
	return &spyStore{Memory: docstore.NewMemory()}
}

func (s *spyStore) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *spyStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *spyStore) Subscribe(ctx context.Context, c, orderBy string) (<-chan docstore.Snapshot, error) {
	if s.offline.Load() {
		return nil, stderrors.New("connection refused")
	}
	return s.Memory.Subscribe(ctx, c, orderBy)
}

func (s *spyStore) GetDocument(ctx context.Context, c, id string) (*docstore.Document, error) {
	s.hit()
	return s.Memory.GetDocument(ctx, c, id)
}

func (s *spyStore) Add(ctx context.Context, c string, f map[string]any) (string, error) {
	s.hit()
	return s.Memory.Add(ctx, c, f)
}

func (s *spyStore) Update(ctx context.Context, c, id string, f map[string]any) error {
	s.hit()
	return s.Memory.Update(ctx, c, id, f)
}

func (s *spyStore) Delete(ctx context.Context, c, id string) error {
	s.hit()
	return s.Memory.Delete(ctx, c, id)
}

func (s *spyStore) CommitBatch(ctx context.Context, writes []docstore.Write) error {
	s.hit()
	if s.failBatch != nil {
		return s.failBatch
	}
	return s.Memory.CommitBatch(ctx, writes)
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
	actors  []*auth.Identity
}

func (a *recordingAuditor) Record(actor *auth.Identity, action string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.actors = append(a.actors, actor)
}

type fixture struct {
	store   *spyStore
	list    *List
	reorder *ReorderController
	service *Service
	auditor *recordingAuditor
	cancel  context.CancelFunc
	done    chan struct{}
}

// newFixture seeds A, B, C and waits for the synchronizer to mirror them.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newSpyStore(), list: NewList(), auditor: &recordingAuditor{}}
	for i, name := range []string{"A", "B", "C"} {
		f.store.Memory.Set(context.Background(), members, name, map[string]any{
			"name": name, "externalId": "id-" + name, "rank": "Agente", OrderField: i,
		})
	}

	f.reorder = NewReorderController(f.list, f.store, members)
	f.service = NewService(f.list, f.store, members, f.auditor, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		NewSynchronizer(f.store, f.list, testRosterConfig).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-f.done
	})

	waitView(t, f.list, func(v View) bool { return v.Synced && len(v.Records) == 3 })
	return f
}

func waitView(t *testing.T, l *List, pred func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := l.Snapshot(); pred(v) {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("list did not reach expected state, last %+v", l.Snapshot())
	return View{}
}

func names(records []Record) string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return strings.Join(out, ",")
}

func storedOrder(t *testing.T, s *spyStore, id string) int {
	t.Helper()
	doc, err := s.Memory.GetDocument(context.Background(), members, id)
	if err != nil {
		t.Fatalf("GetDocument(%s) failed: %v", id, err)
	}
	return orderOf(doc.Fields[OrderField])
}

// TestReorderRoundTrip tests moving A to the end and reading it back from a fresh subscription
func TestReorderRoundTrip(t *testing.T) {
	f := newFixture(t)

	if err := f.reorder.Begin(0); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	f.reorder.DragOver(1)
	f.reorder.DragOver(2)

	v := f.list.Snapshot()
	if names(v.Records) != "B,C,A" || !v.Optimistic {
		t.Fatalf("Expected optimistic B,C,A, got %s (optimistic=%v)", names(v.Records), v.Optimistic)
	}

	if err := f.reorder.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	for id, want := range map[string]int{"B": 0, "C": 1, "A": 2} {
		if got := storedOrder(t, f.store, id); got != want {
			t.Errorf("Stored order of %s = %d, want %d", id, got, want)
		}
	}

	fresh := NewList()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSynchronizer(f.store, fresh, testRosterConfig).Run(ctx)

	v = waitView(t, fresh, func(v View) bool { return v.Synced })
	if names(v.Records) != "B,C,A" {
		t.Errorf("Expected resubscription to read B,C,A, got %s", names(v.Records))
	}
	for i, r := range v.Records {
		if r.Order != i {
			t.Errorf("Record %s has order %d at index %d", r.Name, r.Order, i)
		}
	}

	waitView(t, f.list, func(v View) bool { return !v.Optimistic && names(v.Records) == "B,C,A" })
}

// TestReorderWithoutMoveRewritesSameOrder tests that an unmoved drag is a no-op for callers
func TestReorderWithoutMoveRewritesSameOrder(t *testing.T) {
	f := newFixture(t)

	f.reorder.Begin(1)
	f.reorder.DragOver(1)

	batch := OrderBatch(members, f.list.Snapshot().Records)
	for i, w := range batch {
		if w.Op != docstore.OpUpdate || w.Fields[OrderField] != i {
			t.Errorf("Unexpected write %d: %+v", i, w)
		}
	}

	if err := f.reorder.End(context.Background()); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	for id, want := range map[string]int{"A": 0, "B": 1, "C": 2} {
		if got := storedOrder(t, f.store, id); got != want {
			t.Errorf("Stored order of %s = %d, want %d", id, got, want)
		}
	}
	if v := f.list.Snapshot(); names(v.Records) != "A,B,C" {
		t.Errorf("Expected A,B,C, got %s", names(v.Records))
	}
}

// TestRemoteSnapshotWinsMidDrag tests that a remote change discards the local order
func TestRemoteSnapshotWinsMidDrag(t *testing.T) {
	f := newFixture(t)

	f.reorder.Begin(0)
	f.reorder.DragOver(2)
	if names(f.list.Snapshot().Records) != "B,C,A" {
		t.Fatal("expected local move to apply immediately")
	}

	f.store.Memory.Set(context.Background(), members, "D", map[string]any{
		"name": "D", "externalId": "id-D", "rank": "Chefe", OrderField: 3,
	})

	v := waitView(t, f.list, func(v View) bool { return len(v.Records) == 4 })
	if names(v.Records) != "A,B,C,D" {
		t.Errorf("Expected snapshot order A,B,C,D, got %s", names(v.Records))
	}
	if v.Optimistic {
		t.Error("Expected optimistic flag cleared by snapshot")
	}
}

// TestReorderCommitFailureKeepsLocalOrder tests that a failed batch neither rolls back nor writes
func TestReorderCommitFailureKeepsLocalOrder(t *testing.T) {
	f := newFixture(t)
	f.store.failBatch = stderrors.New("quota exceeded")

	f.reorder.Begin(0)
	f.reorder.DragOver(2)

	err := f.reorder.End(context.Background())
	if !errors.Is(err, errors.ErrUnavailable) {
		t.Fatalf("Expected unavailable error, got %v", err)
	}

	v := f.list.Snapshot()
	if names(v.Records) != "B,C,A" || !v.Optimistic {
		t.Errorf("Expected optimistic B,C,A to remain, got %s", names(v.Records))
	}
	if got := storedOrder(t, f.store, "A"); got != 0 {
		t.Errorf("Expected stored order untouched, A has %d", got)
	}
}

func TestReorderControllerEdges(t *testing.T) {
	f := newFixture(t)

	if err := f.reorder.End(context.Background()); !stderrors.Is(err, ErrNotDragging) {
		t.Errorf("Expected ErrNotDragging, got %v", err)
	}
	if err := f.reorder.DragOver(2); err != nil {
		t.Errorf("Expected idle DragOver to be ignored, got %v", err)
	}
	if err := f.reorder.Begin(3); !stderrors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected out of range, got %v", err)
	}

	f.reorder.Begin(0)
	if err := f.reorder.DragOver(-1); !stderrors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected out of range, got %v", err)
	}
	if dragging, at := f.reorder.Dragging(); !dragging || at != 0 {
		t.Errorf("Expected drag still at 0, got %v/%d", dragging, at)
	}
	if f.store.Calls() != 0 {
		t.Errorf("Expected no store calls, got %d", f.store.Calls())
	}
}

// TestSynchronizerResubscribes tests recovery from a dropped stream
func TestSynchronizerResubscribes(t *testing.T) {
	f := newFixture(t)

	f.store.offline.Store(true)
	f.store.Memory.DropSubscriptions()
	v := waitView(t, f.list, func(v View) bool { return v.Stale })
	if names(v.Records) != "A,B,C" {
		t.Errorf("Stale list should keep its last records, got %s", names(v.Records))
	}

	f.store.offline.Store(false)
	v = waitView(t, f.list, func(v View) bool { return !v.Stale })
	if names(v.Records) != "A,B,C" {
		t.Errorf("Expected A,B,C after resubscribe, got %s", names(v.Records))
	}

	f.store.Memory.Delete(context.Background(), members, "B")
	v = waitView(t, f.list, func(v View) bool { return len(v.Records) == 2 })
	if names(v.Records) != "A,C" || v.Records[1].Order != 2 {
		t.Errorf("Expected A,C with C keeping order 2, got %+v", v.Records)
	}
}

func TestSynchronizerStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.cancel()

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("synchronizer did not stop")
	}
}

func TestServiceAdd(t *testing.T) {
	f := newFixture(t)
	f.service.now = func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }

	rec, err := f.service.Add(context.Background(), nil, MemberInput{
		Name: " Raul ", ExternalID: "123", Rank: "Agente Principal",
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if rec.ID == "" || rec.Order != 3 || rec.JoinDate != "04/05/2026" || rec.Name != "Raul" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Rank != auth.RolePrincipalAgent {
		t.Errorf("Expected Agente Principal, got %s", rec.Rank)
	}

	v := waitView(t, f.list, func(v View) bool { return len(v.Records) == 4 })
	if v.Records[3].Name != "Raul" {
		t.Errorf("Expected new member last, got %s", names(v.Records))
	}
	if len(f.auditor.actions) != 1 || f.auditor.actions[0] != "Registou novo membro: Raul" {
		t.Errorf("Unexpected audit actions: %v", f.auditor.actions)
	}
}

func TestServiceValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Add(context.Background(), nil, MemberInput{Name: "X", Rank: "General"})
	appErr, ok := errors.As(err)
	if !ok || appErr.Details["externalId"] != "required" || appErr.Details["rank"] != "unknown rank" {
		t.Fatalf("Expected validation details, got %v", err)
	}
	if f.store.Calls() != 0 {
		t.Error("Invalid input must not reach the store")
	}
	if len(f.auditor.actions) != 0 {
		t.Error("Failed mutation must not be audited")
	}
}

func TestServiceUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.Update(ctx, nil, "C", MemberInput{Name: "Carla", ExternalID: "id-C", Rank: "Chefe"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := storedOrder(t, f.store, "C"); got != 2 {
		t.Errorf("Update must keep order, got %d", got)
	}

	if err := f.service.Delete(ctx, nil, "B"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := f.service.Delete(ctx, nil, "B"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found on second delete, got %v", err)
	}
	if err := f.service.Update(ctx, nil, "Z", MemberInput{Name: "Z", ExternalID: "z", Rank: "Agente"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found for missing member, got %v", err)
	}

	// Survivors keep their stored orders; the gap is not compacted.
	if a, c := storedOrder(t, f.store, "A"), storedOrder(t, f.store, "C"); a != 0 || c != 2 {
		t.Errorf("Expected A:0 C:2 after deleting B, got A:%d C:%d", a, c)
	}
	v := waitView(t, f.list, func(v View) bool { return len(v.Records) == 2 })
	if got := names(v.Records); got != "A,Carla" {
		t.Errorf("Expected A,Carla, got %s", got)
	}

	want := []string{"Editou o membro: Carla", "Removeu o membro: B"}
	if strings.Join(f.auditor.actions, "|") != strings.Join(want, "|") {
		t.Errorf("Unexpected audit actions: %v", f.auditor.actions)
	}
}

// TestServiceAddAfterMiddleDelete tests that a new member lands after every
// survivor instead of reusing the order of one
func TestServiceAddAfterMiddleDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.service.Delete(ctx, nil, "B"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	waitView(t, f.list, func(v View) bool { return len(v.Records) == 2 })

	rec, err := f.service.Add(ctx, nil, MemberInput{Name: "D", ExternalID: "id-D", Rank: "Agente"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if rec.Order != 3 {
		t.Errorf("Expected order 3, got %d", rec.Order)
	}
	if got := storedOrder(t, f.store, "C"); got != 2 {
		t.Errorf("Expected C to keep order 2, got %d", got)
	}

	v := waitView(t, f.list, func(v View) bool { return len(v.Records) == 3 })
	if got := names(v.Records); got != "A,C,D" {
		t.Errorf("Expected A,C,D, got %s", got)
	}
}

// TestServiceAddRequiresSyncedList tests that no order is guessed before the first snapshot
func TestServiceAddRequiresSyncedList(t *testing.T) {
	store := newSpyStore()
	service := NewService(NewList(), store, members, &recordingAuditor{}, time.UTC)

	_, err := service.Add(context.Background(), nil, MemberInput{Name: "D", ExternalID: "id-D", Rank: "Agente"})
	if !errors.Is(err, errors.ErrUnavailable) {
		t.Errorf("Expected unavailable, got %v", err)
	}
	if store.Calls() != 0 {
		t.Errorf("Expected no store calls, got %d", store.Calls())
	}
}

func TestNextOrder(t *testing.T) {
	tests := []struct {
		name   string
		orders []int
		want   int
	}{
		{"empty", nil, 0},
		{"dense", []int{0, 1, 2}, 3},
		{"gap", []int{0, 2}, 3},
		{"unordered only", []int{-1}, 0},
		{"unsorted", []int{5, -1, 1}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []Record
			for _, o := range tt.orders {
				records = append(records, Record{Order: o})
			}
			if got := nextOrder(records); got != tt.want {
				t.Errorf("nextOrder(%v) = %d, want %d", tt.orders, got, tt.want)
			}
		})
	}
}

func TestListMoveOutOfRange(t *testing.T) {
	l := NewList()
	l.Replace([]Record{{ID: "A"}, {ID: "B"}}, time.Now())

	err := l.Move(0, 5)
	if !stderrors.Is(err, ErrIndexOutOfRange) || err.Error() != "move 0 to 5 in list of 2: "+ErrIndexOutOfRange.Error() {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestFilter(t *testing.T) {
	records := []Record{
		{Name: "Raul Silva", ExternalID: "100", Rank: auth.RoleAgent, RadioCallsign: "Alfa-1"},
		{Name: "Miguel", ExternalID: "200", Rank: auth.RoleCoordinatingChief, ContactHandle: "mig#0001"},
	}

	tests := []struct {
		query string
		want  string
	}{
		{"", "Raul Silva,Miguel"},
		{"  ", "Raul Silva,Miguel"},
		{"SILVA", "Raul Silva"},
		{"alfa", "Raul Silva"},
		{"chefe", "Miguel"},
		{"#0001", "Miguel"},
		{"00", "Raul Silva,Miguel"},
		{"zzz", ""},
	}
	for _, tt := range tests {
		if got := names(Filter(records, tt.query)); got != tt.want {
			t.Errorf("Filter(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
	if records[0].Name != "Raul Silva" || len(records) != 2 {
		t.Error("Filter must not modify its input")
	}
}

func TestFromDocumentOrder(t *testing.T) {
	tests := []struct {
		v    any
		want int
	}{
		{2, 2},
		{int64(3), 3},
		{4.0, 4},
		{4.5, -1},
		{"5", -1},
		{nil, -1},
	}
	for _, tt := range tests {
		r := FromDocument(docstore.Document{ID: "x", Fields: map[string]any{OrderField: tt.v, "rank": "Coronel"}})
		if r.Order != tt.want {
			t.Errorf("order %v decoded as %d, want %d", tt.v, r.Order, tt.want)
		}
		if r.Rank != auth.DefaultRole {
			t.Errorf("Expected unknown rank to default, got %s", r.Rank)
		}
	}
}

// TestMiguelReorderRejectedBeforeStore tests call-site gating with a real session
// requestAuth wires the bearer middleware the way the server does.
type requestAuth struct {
	provider *auth.TokenProvider
	authn    *auth.Authenticator
}

func newRequestAuth() *requestAuth {
	provider := auth.NewTokenProvider(config.AuthConfig{JWTSecret: "s", Issuer: "psp-hub", SessionTTL: time.Hour})
	sessions := auth.NewSessions(auth.DefaultSessionConfig())
	return &requestAuth{provider: provider, authn: auth.NewAuthenticator(provider, auth.NewResolver(nil), sessions)}
}

// login issues a token for user and opens its session.
func (a *requestAuth) login(t *testing.T, user string) string {
	t.Helper()
	tok, err := a.provider.Issue("uid-"+user, user+"@psp.com", 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, _, err := a.authn.Login(context.Background(), tok); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return tok
}

func (a *requestAuth) routes(h *Handler) http.Handler {
	cors := secmiddleware.CORS(secmiddleware.DefaultCORSConfig([]string{"https://hub.psp.pt"}))
	return cors(a.authn.Middleware(h.Routes()))
}

func send(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Origin", "https://evil.example")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestProcessLoginDoesNotAuthorizeRequests tests that a director signed in on
// the process session grants nothing to callers without a token
func TestProcessLoginDoesNotAuthorizeRequests(t *testing.T) {
	f := newFixture(t)
	ra := newRequestAuth()

	sess := session.New(ra.provider, auth.NewResolver(nil), audit.NewLogger(audit.NewMemoryRepository(), nil))
	sess.Start(context.Background())
	defer sess.Stop()
	tok, _ := ra.provider.Issue("uid-tomas", "tomas@psp.com", time.Hour)
	if st, err := sess.Login(context.Background(), tok); err != nil || !st.EditAllowed() {
		t.Fatalf("Process login failed: %+v %v", st, err)
	}

	routes := ra.routes(NewHandler(f.list, f.service, f.reorder, auth.RequestGate{}))

	rec := send(routes, http.MethodDelete, "/members/A", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Foreign origin must not be allowed")
	}

	// Signed with the right key but never opened through Login.
	if rec := send(routes, http.MethodDelete, "/members/A", tok, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a token without a session, got %d", rec.Code)
	}
	if rec := send(routes, http.MethodDelete, "/members/A", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a forged token, got %d", rec.Code)
	}

	if f.store.Calls() != 0 {
		t.Errorf("Expected no store calls, got %d", f.store.Calls())
	}
	if v := f.list.Snapshot(); len(v.Records) != 3 {
		t.Errorf("Expected roster untouched, got %s", names(v.Records))
	}
}

// TestMiguelReorderRejectedBeforeStore tests that a Chefe Coordenador token can
// read but never reaches the store with an edit
func TestMiguelReorderRejectedBeforeStore(t *testing.T) {
	f := newFixture(t)
	ra := newRequestAuth()
	routes := ra.routes(NewHandler(f.list, f.service, f.reorder, auth.RequestGate{}))
	miguel := ra.login(t, "miguel")

	for _, path := range []string{"/reorder/begin", "/reorder/over", "/reorder/end", "/members"} {
		if rec := send(routes, http.MethodPost, path, miguel, `{"index":0}`); rec.Code != http.StatusForbidden {
			t.Errorf("POST %s: expected 403, got %d", path, rec.Code)
		}
	}
	if rec := send(routes, http.MethodDelete, "/members/A", miguel, ""); rec.Code != http.StatusForbidden {
		t.Errorf("DELETE: expected 403, got %d", rec.Code)
	}

	rec := send(routes, http.MethodGet, "/", miguel, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"editAllowed":false`) {
		t.Errorf("Expected readable roster without edit, got %d %s", rec.Code, rec.Body.String())
	}

	if f.store.Calls() != 0 {
		t.Errorf("Expected no store calls, got %d", f.store.Calls())
	}
	if dragging, _ := f.reorder.Dragging(); dragging {
		t.Error("Rejected begin must not start a drag")
	}
}

// TestDirectorTokenEdits tests that edit rights follow the bearer token and end with its session
func TestDirectorTokenEdits(t *testing.T) {
	f := newFixture(t)
	ra := newRequestAuth()
	routes := ra.routes(NewHandler(f.list, f.service, f.reorder, auth.RequestGate{}))
	tomas := ra.login(t, "tomas")

	rec := send(routes, http.MethodGet, "/", tomas, "")
	if !strings.Contains(rec.Body.String(), `"editAllowed":true`) {
		t.Errorf("Expected edit rights for the director, got %s", rec.Body.String())
	}
	if rec := send(routes, http.MethodDelete, "/members/A", tomas, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if f.auditor.actions[0] != "Removeu o membro: A" || f.auditor.actors[0] == nil || f.auditor.actors[0].ID != "uid-tomas" {
		t.Errorf("Unexpected audit: %v %v", f.auditor.actions, f.auditor.actors)
	}

	user, _, _ := ra.provider.Verify(tomas)
	ra.authn.Logout(user.TokenID)
	if rec := send(routes, http.MethodDelete, "/members/B", tomas, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", rec.Code)
	}
}

type stubGate struct {
	identity *auth.Identity
	err      error
}

func (g stubGate) Authorize(ctx context.Context, perm auth.Permission) (*auth.Identity, error) {
	if g.err != nil {
		return nil, g.err
	}
	if !auth.HasPermission(g.identity.Role, perm) {
		return nil, errors.Forbidden("denied")
	}
	return g.identity, nil
}

func (g stubGate) EditAllowed(ctx context.Context) bool {
	return g.err == nil && g.identity.TopDirector()
}

func TestHandlerResolvingSessionIsNotDenied(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.list, f.service, f.reorder, stubGate{err: errors.SessionResolving()})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reorder/begin", strings.NewReader(`{"index":0}`)))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "SESSION_RESOLVING") {
		t.Errorf("Expected 503 SESSION_RESOLVING, got %d %s", rec.Code, rec.Body.String())
	}
	if f.store.Calls() != 0 {
		t.Error("Resolving session must not reach the store")
	}
}

func TestHandlerDirectorReorder(t *testing.T) {
	f := newFixture(t)
	director := &auth.Identity{ID: "u-1", DisplayName: "Tomas", Role: auth.RoleNationalDirector}
	h := NewHandler(f.list, f.service, f.reorder, stubGate{identity: director})
	routes := h.Routes()

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec
	}

	if rec := post("/reorder/begin", `{"index":2}`); rec.Code != http.StatusNoContent {
		t.Fatalf("begin: %d %s", rec.Code, rec.Body.String())
	}
	if rec := post("/reorder/over", `{"index":0}`); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"optimistic":true`) {
		t.Fatalf("over: %d %s", rec.Code, rec.Body.String())
	}
	if rec := post("/reorder/end", ``); rec.Code != http.StatusOK {
		t.Fatalf("end: %d %s", rec.Code, rec.Body.String())
	}
	if rec := post("/reorder/end", ``); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for end without begin, got %d", rec.Code)
	}
	if rec := post("/reorder/begin", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing index, got %d", rec.Code)
	}

	if got := storedOrder(t, f.store, "C"); got != 0 {
		t.Errorf("Expected C first after reorder, got order %d", got)
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/members/A", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d %s", rec.Code, rec.Body.String())
	}
}
