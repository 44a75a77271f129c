package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"health-companion/internal/adherence"
	"health-companion/internal/datefacts"
	"health-companion/internal/emergency"
	"health-companion/internal/entity"
	"health-companion/internal/mood"
	"health-companion/internal/profile"
	"health-companion/internal/remote"
	"health-companion/internal/remote/remotetest"
	"health-companion/internal/report"
	"health-companion/internal/session"
	"health-companion/internal/storage"
)

type alertSink struct {
	mu     sync.Mutex
	alerts []emergency.Alert
}

func (a *alertSink) SendAlert(_ context.Context, alert emergency.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *alertSink) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type testAPI struct {
	*httptest.Server
	remote *remotetest.Server
	svc    *Service
	alerts *alertSink
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	st, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := remote.NewClient(time.Second, nil)
	store := session.NewStore(client, st, session.Options{
		AuthURL: srv.Endpoint(remotetest.PathAuth),
		Secret:  "test-secret",
		MaxAge:  time.Hour,
		PinCost: bcrypt.MinCost,
	})
	alerts := &alertSink{}
	svc := NewService(Deps{
		Session: store,
		Repos: entity.NewRepositories(entity.Endpoints{
			Advanced:      srv.Endpoint(remotetest.PathAdvanced),
			Doctors:       srv.Endpoint(remotetest.PathDoctors),
			Grandchildren: srv.Endpoint(remotetest.PathGrandchildren),
		}, client),
		Adherence: adherence.NewLog(client, srv.Endpoint(remotetest.PathAdvanced), nil),
		Mood:      mood.NewTracker(client, srv.Endpoint(remotetest.PathProfile), nil),
		Profile: profile.NewService(client, store, profile.Endpoints{
			Profile:  srv.Endpoint(remotetest.PathProfile),
			Advanced: srv.Endpoint(remotetest.PathAdvanced),
		}),
		Gate:   emergency.NewGate(store, alerts, true, nil),
		Report: report.NewService(nil, 0, ""),
	})
	svc.today = func() datefacts.Date { return datefacts.Date{Year: 2024, Month: 3, Day: 15} }

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(svc))
	})
	api := httptest.NewServer(r)
	t.Cleanup(api.Close)
	return &testAPI{Server: api, remote: srv, svc: svc, alerts: alerts}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (a *testAPI) register(t *testing.T) {
	t.Helper()
	reg := map[string]string{
		"phone":      "+79990000001",
		"firstName":  "Anna",
		"lastName":   "Petrova",
		"birthDate":  "1950-03-15",
		"sosPinCode": "4321",
	}
	if status := a.do(t, http.MethodPost, "/api/session/register", reg, nil); status != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d", status)
	}
}

func TestRequiresSession(t *testing.T) {
	api := newTestAPI(t)
	for path, method := range map[string]string{
		"/api/session":     http.MethodGet,
		"/api/medications": http.MethodGet,
		"/api/birthday":    http.MethodGet,
	} {
		if status := api.do(t, method, path, nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", method, path, status)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)
	var body struct {
		Fields []string `json:"fields"`
	}
	status := api.do(t, http.MethodPost, "/api/session/register", map[string]string{"phone": "+7999"}, &body)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if len(body.Fields) != 4 {
		t.Fatalf("expected 4 missing fields, got %v", body.Fields)
	}
}

func TestLoginUnknownPhone(t *testing.T) {
	api := newTestAPI(t)
	if status := api.do(t, http.MethodPost, "/api/session/login", map[string]string{"phone": "+70000000000"}, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestMedicationFlow(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	var list struct {
		Medications []entity.Medication `json:"medications"`
		Warning     string              `json:"warning"`
	}
	if status := api.do(t, http.MethodGet, "/api/medications", nil, &list); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if list.Medications == nil || len(list.Medications) != 0 {
		t.Fatalf("expected empty list, got %v", list.Medications)
	}

	if status := api.do(t, http.MethodPost, "/api/medications", map[string]string{"dosage": "1"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", status)
	}
	med := map[string]string{"name": "Aspirin", "dosage": "100mg", "timeSchedule": "08:00"}
	if status := api.do(t, http.MethodPost, "/api/medications", med, nil); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	api.do(t, http.MethodGet, "/api/medications", nil, &list)
	if len(list.Medications) != 1 || list.Medications[0].Dosage != "100mg" {
		t.Fatalf("unexpected list %+v", list.Medications)
	}

	var ev adherence.Event
	path := "/api/medications/" + strconv.FormatInt(list.Medications[0].ID, 10) + "/taken"
	if status := api.do(t, http.MethodPost, path, nil, &ev); status != http.StatusCreated {
		t.Fatalf("expected 201 from taken, got %d", status)
	}
	if ev.ID == 0 || ev.Skipped {
		t.Fatalf("unexpected event %+v", ev)
	}
	if status := api.do(t, http.MethodPost, "/api/medications/abc/skipped", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", status)
	}

	api.remote.Fail(remotetest.PathAdvanced, true)
	list.Medications = nil
	if status := api.do(t, http.MethodGet, "/api/medications", nil, &list); status != http.StatusOK {
		t.Fatalf("expected 200 with cached list, got %d", status)
	}
	if len(list.Medications) != 1 || list.Warning == "" {
		t.Fatalf("expected cached list with warning, got %+v", list)
	}
	if status := api.do(t, http.MethodPost, path, nil, nil); status != http.StatusBadGateway {
		t.Fatalf("expected 502 when remote fails, got %d", status)
	}
}

func TestMood(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	if status := api.do(t, http.MethodPost, "/api/mood", map[string]string{"mood": "great"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	var resp struct {
		Mood string `json:"mood"`
	}
	if status := api.do(t, http.MethodPost, "/api/mood", map[string]string{"mood": "good"}, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Mood != "good" || len(api.remote.MoodEntries()) != 1 {
		t.Fatalf("unexpected mood response %+v", resp)
	}
}

func TestSOSFlow(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	var state struct {
		State       string `json:"state"`
		RequiresPin bool   `json:"requiresPin"`
	}
	api.do(t, http.MethodGet, "/api/sos", nil, &state)
	if state.State != "idle" || !state.RequiresPin {
		t.Fatalf("unexpected initial state %+v", state)
	}
	if status := api.do(t, http.MethodPost, "/api/sos/trigger", map[string]string{"pin": "4321"}, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 before confirm, got %d", status)
	}
	api.do(t, http.MethodPost, "/api/sos/confirm", nil, &state)
	if state.State != "confirming" {
		t.Fatalf("expected confirming, got %s", state.State)
	}
	if status := api.do(t, http.MethodPost, "/api/sos/trigger", map[string]string{"pin": "0000"}, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", status)
	}
	if status := api.do(t, http.MethodPost, "/api/sos/trigger", map[string]string{"pin": "4321"}, &state); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if state.State != "triggered" || api.alerts.count() != 1 {
		t.Fatalf("expected triggered with one alert, got %s / %d", state.State, api.alerts.count())
	}
	api.do(t, http.MethodPost, "/api/sos/reset", nil, &state)
	if state.State != "idle" {
		t.Fatalf("expected idle after reset, got %s", state.State)
	}
}

func TestBirthdayGreetsOncePerActivation(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	var b BirthdayStatus
	api.do(t, http.MethodGet, "/api/birthday", nil, &b)
	if !b.IsBirthday || !b.Greeted || b.Age != 74 {
		t.Fatalf("unexpected first check %+v", b)
	}
	api.do(t, http.MethodGet, "/api/birthday", nil, &b)
	if !b.IsBirthday || b.Greeted {
		t.Fatalf("expected no second greeting, got %+v", b)
	}

	if status := api.do(t, http.MethodPost, "/api/session/login", map[string]string{"phone": "+79990000001"}, nil); status != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", status)
	}
	api.do(t, http.MethodGet, "/api/birthday", nil, &b)
	if !b.Greeted {
		t.Fatalf("expected a new activation to greet again")
	}
}

func TestProfileAndLogout(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	var resp struct {
		User session.User `json:"user"`
	}
	if status := api.do(t, http.MethodPost, "/api/profile/medical-card", map[string]string{"medicalCardNumber": "MC-9"}, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.User.MedicalCardNumber != "MC-9" {
		t.Fatalf("unexpected user %+v", resp.User)
	}
	if status := api.do(t, http.MethodPatch, "/api/profile", map[string]string{}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", status)
	}

	api.do(t, http.MethodPost, "/api/doctors", map[string]string{"firstName": "Ivan", "lastName": "Smirnov", "specialty": "GP"}, nil)
	api.do(t, http.MethodGet, "/api/doctors", nil, nil)
	if status := api.do(t, http.MethodPost, "/api/session/logout", nil, nil); status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	if len(api.svc.Repos.Doctors.Cached(1)) != 0 {
		t.Fatalf("expected repository cache cleared on logout")
	}
	if status := api.do(t, http.MethodGet, "/api/session", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestReportWithoutDoctorChat(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)
	if status := api.do(t, http.MethodPost, "/api/report", nil, nil); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestSwitchingUsersClearsPreviousState(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	api.do(t, http.MethodPost, "/api/mood", map[string]string{"mood": "sad"}, nil)
	api.do(t, http.MethodPost, "/api/sos/confirm", nil, nil)
	api.do(t, http.MethodPost, "/api/doctors", map[string]string{"firstName": "Ivan", "lastName": "Smirnov", "specialty": "GP"}, nil)
	api.do(t, http.MethodGet, "/api/doctors", nil, nil)

	boris := map[string]string{
		"phone":      "+79990000002",
		"firstName":  "Boris",
		"lastName":   "Ivanov",
		"birthDate":  "1948-07-01",
		"sosPinCode": "1111",
	}
	if status := api.do(t, http.MethodPost, "/api/session/register", boris, nil); status != http.StatusCreated {
		t.Fatalf("expected 201 from second register, got %d", status)
	}

	var state struct {
		State string `json:"state"`
	}
	api.do(t, http.MethodGet, "/api/sos", nil, &state)
	if state.State != "idle" {
		t.Fatalf("expected idle gate for the new user, got %s", state.State)
	}
	if got := api.svc.Mood.Selected(); got != "" {
		t.Fatalf("expected no mood marker for the new user, got %q", got)
	}
	if len(api.svc.Repos.Doctors.Cached(1)) != 0 {
		t.Fatalf("expected previous user's doctors dropped from cache")
	}

	// Logging the same user in again keeps the session-scoped state.
	api.do(t, http.MethodPost, "/api/sos/confirm", nil, nil)
	if status := api.do(t, http.MethodPost, "/api/session/login", map[string]string{"phone": "+79990000002"}, nil); status != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", status)
	}
	api.do(t, http.MethodGet, "/api/sos", nil, &state)
	if state.State != "confirming" {
		t.Fatalf("expected gate kept for the same user, got %s", state.State)
	}
}
