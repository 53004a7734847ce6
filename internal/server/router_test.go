package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/talentmesh/milestones-api/internal/negotiation"
	"github.com/talentmesh/milestones-api/internal/notify"
	"github.com/talentmesh/milestones-api/internal/parties"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubTokenManager maps opaque test tokens to party ids.
type stubTokenManager struct {
	subjects map[string]string
}

func (s *stubTokenManager) ValidateToken(token string) (string, error) {
	subject, ok := s.subjects[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return subject, nil
}

type stubTokenIssuer struct{}

func (stubTokenIssuer) IssuePartyToken(_ context.Context, partyID string) (string, int64, error) {
	return "issued-for-" + partyID, 1800, nil
}

type routerFixture struct {
	handler    http.Handler
	dispatcher *notify.Dispatcher
}

func newRouterFixture(t *testing.T, devIssuer TokenIssuer) *routerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&negotiation.Header{}, &negotiation.Version{}, &negotiation.Item{}, &parties.Participant{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := negotiation.NewStore(negotiation.StoreConfig{
		Database:   db,
		IDProvider: negotiation.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	participants, err := parties.NewService(parties.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct parties service: %v", err)
	}
	if err := participants.Register(context.Background(), "contract-1", "party-student", "party-company"); err != nil {
		t.Fatalf("failed to register participants: %v", err)
	}

	dispatcher := notify.NewDispatcher()
	service, err := negotiation.NewService(negotiation.ServiceConfig{
		Store:    store,
		Roles:    participants,
		Notifier: dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct negotiation service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: &stubTokenManager{subjects: map[string]string{
			"token-student": "party-student",
			"token-company": "party-company",
			"token-outside": "party-outside",
		}},
		DevTokenIssuer: devIssuer,
		Negotiations:   service,
		Roles:          participants,
		Dispatcher:     dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &routerFixture{handler: handler, dispatcher: dispatcher}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return body
}

func submitPayload(amounts map[string]int64) map[string]interface{} {
	titles := map[string]string{"design": "Design", "build": "Build", "launch": "Launch"}
	items := make([]map[string]interface{}, 0, len(amounts))
	for _, id := range []string{"design", "build", "launch"} {
		amount, ok := amounts[id]
		if !ok {
			continue
		}
		items = append(items, map[string]interface{}{
			"client_id":    id,
			"title":        titles[id],
			"amount_minor": amount,
		})
	}
	return map[string]interface{}{"items": items}
}

func TestRequestsWithoutBearerTokenAreRejected(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation", "token-bogus", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", recorder.Code)
	}
}

func TestInitializeAndOpenRoundTrip(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 9000})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	header, ok := body["header"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing header in response: %v", body)
	}
	if header["state"] != string(negotiation.StateStudentEditing) {
		t.Fatalf("expected initial state, got %v", header["state"])
	}

	recorder = fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation", "token-student", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body = decodeBody(t, recorder)
	if body["mode"] != string(negotiation.ViewEdit) {
		t.Fatalf("expected edit mode for the student, got %v", body["mode"])
	}
	if body["role"] != string(negotiation.RoleStudent) {
		t.Fatalf("expected student role, got %v", body["role"])
	}
}

func TestOpenForUnknownContractReturnsNotFound(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation", "token-student", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before initialize, got %d", recorder.Code)
	}
}

func TestNonParticipantsAreForbidden(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-outside",
		map[string]interface{}{"agreed_total_minor": 9000})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); body["error"] != "not_a_participant" {
		t.Fatalf("expected not_a_participant, got %v", body["error"])
	}
}

func TestSubmitMapsBudgetMismatchTo422(t *testing.T) {
	fixture := newRouterFixture(t, nil)
	fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 5000})

	recorder := fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation/submit", "token-student",
		submitPayload(map[string]int64{"design": 2000, "build": 2500}))
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["error"] != "budget_mismatch" {
		t.Fatalf("expected budget_mismatch, got %v", body["error"])
	}
	if delta, ok := body["delta_minor"].(float64); !ok || int64(delta) != 500 {
		t.Fatalf("expected delta_minor 500, got %v", body["delta_minor"])
	}
}

func TestTurnViolationsMapTo403(t *testing.T) {
	fixture := newRouterFixture(t, nil)
	fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 9000})

	recorder := fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation/approve", "token-company", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); body["error"] != "not_your_turn" {
		t.Fatalf("expected not_your_turn, got %v", body["error"])
	}
}

func TestFullNegotiationOverHTTP(t *testing.T) {
	fixture := newRouterFixture(t, nil)
	fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 9000})

	recorder := fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation/submit", "token-student",
		submitPayload(map[string]int64{"design": 3000, "build": 3000, "launch": 3000}))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on submit, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// The schedule export is gated on approval.
	recorder = fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation/schedule.pdf", "token-student", nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 before approval, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation/approve", "token-company", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on approve, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	header := body["header"].(map[string]interface{})
	if header["state"] != string(negotiation.StateApproved) {
		t.Fatalf("expected approved state, got %v", header["state"])
	}

	recorder = fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation/approve", "token-company", nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double approve, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); body["error"] != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %v", body["error"])
	}

	recorder = fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation/schedule.pdf", "token-company", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for the approved schedule, got %d", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", contentType)
	}
	if !bytes.HasPrefix(recorder.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected PDF payload")
	}
}

func TestDraftsAcceptDecimalAmounts(t *testing.T) {
	fixture := newRouterFixture(t, nil)
	fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 9000})

	recorder := fixture.do(t, http.MethodPut, "/contracts/contract-1/negotiation/draft", "token-student",
		map[string]interface{}{"items": []map[string]interface{}{
			{"client_id": "design", "title": "Design", "amount": 19.99},
		}})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation", "token-student", nil)
	body := decodeBody(t, recorder)
	items := body["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0].(map[string]interface{})
	if amount, ok := item["amount_minor"].(float64); !ok || int64(amount) != 1999 {
		t.Fatalf("expected amount_minor 1999, got %v", item["amount_minor"])
	}
}

func TestDevTokenEndpointIsOptIn(t *testing.T) {
	withoutIssuer := newRouterFixture(t, nil)
	recorder := withoutIssuer.do(t, http.MethodPost, "/auth/token", "",
		map[string]interface{}{"party_id": "party-student"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a dev issuer, got %d", recorder.Code)
	}

	withIssuer := newRouterFixture(t, stubTokenIssuer{})
	recorder = withIssuer.do(t, http.MethodPost, "/auth/token", "",
		map[string]interface{}{"party_id": "party-student"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["access_token"] != "issued-for-party-student" {
		t.Fatalf("unexpected token payload: %v", body)
	}

	recorder = withIssuer.do(t, http.MethodPost, "/auth/token", "", map[string]interface{}{"party_id": " "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank party id, got %d", recorder.Code)
	}
}

func TestEventsRejectNonParticipants(t *testing.T) {
	fixture := newRouterFixture(t, nil)
	fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 9000})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation/events", "token-outside", nil)
	}()

	// Publish while the outsider's poll is (potentially) pending; a leak
	// would surface as a 200 carrying the event summary.
	time.Sleep(100 * time.Millisecond)
	fixture.dispatcher.Publish(negotiation.Event{
		ContractID: "contract-1",
		Actor:      negotiation.RoleStudent,
		Action:     negotiation.TriggerStudentSubmit,
		Summary:    "student submitted a milestone plan of 90.00",
	})

	recorder := <-done
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-participant, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if body := decodeBody(t, recorder); body["error"] != "not_a_participant" {
		t.Fatalf("expected not_a_participant, got %v", body["error"])
	}
}

func TestEventsLongPollDeliversPublishedEvent(t *testing.T) {
	fixture := newRouterFixture(t, nil)
	fixture.do(t, http.MethodPost, "/contracts/contract-1/negotiation", "token-student",
		map[string]interface{}{"agreed_total_minor": 9000})

	go func() {
		time.Sleep(100 * time.Millisecond)
		fixture.dispatcher.Publish(negotiation.Event{
			ContractID: "contract-1",
			Actor:      negotiation.RoleStudent,
			Action:     negotiation.TriggerStudentSubmit,
			Summary:    "student submitted a milestone plan of 90.00",
			OccurredAt: time.Unix(1760000600, 0).UTC(),
		})
	}()

	recorder := fixture.do(t, http.MethodGet, "/contracts/contract-1/negotiation/events", "token-company", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["action"] != string(negotiation.TriggerStudentSubmit) {
		t.Fatalf("unexpected event action: %v", body["action"])
	}
}
