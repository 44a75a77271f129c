// Package remotetest runs an in-memory record service that speaks the same
// JSON contract as the production endpoints.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

const (
	PathAuth          = "/auth"
	PathProfile       = "/profile"
	PathAdvanced      = "/advanced"
	PathDoctors       = "/doctors"
	PathGrandchildren = "/grandchildren"
)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int64
	users    map[string]map[string]any
	records  map[string][]map[string]any
	moods    []map[string]any
	logs     []map[string]any
	requests map[string]int
	failing  map[string]bool
}

func NewServer() *Server {
	s := &Server{
		users:    map[string]map[string]any{},
		records:  map[string][]map[string]any{},
		requests: map[string]int{},
		failing:  map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(PathAuth, s.guard(PathAuth, s.handleAuth))
	mux.HandleFunc(PathProfile, s.guard(PathProfile, s.handleProfile))
	mux.HandleFunc(PathAdvanced, s.guard(PathAdvanced, s.handleAdvanced))
	mux.HandleFunc(PathDoctors, s.guard(PathDoctors, s.kindHandler("doctors")))
	mux.HandleFunc(PathGrandchildren, s.guard(PathGrandchildren, s.kindHandler("grandchildren")))
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) Endpoint(path string) string {
	return s.Server.URL + path
}

// Fail makes every request to path answer 500 until called again with false.
func (s *Server) Fail(path string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = fail
}

// Requests returns how many requests reached path, failed ones included.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// AddUser seeds an account and returns its id.
func (s *Server) AddUser(phone, firstName, lastName, birthDate string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.users[phone] = map[string]any{
		"id":        s.nextID,
		"phone":     phone,
		"firstName": firstName,
		"lastName":  lastName,
		"birthDate": birthDate,
	}
	return s.nextID
}

// LogEvents returns the medication log bodies received so far.
func (s *Server) LogEvents() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any{}, s.logs...)
}

// MoodEntries returns the saveMood bodies received so far.
func (s *Server) MoodEntries() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any{}, s.moods...)
}

// SetUserField changes a stored user as if another device had edited it.
func (s *Server) SetUserField(phone, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[phone]; ok {
		user[key] = value
	}
}

func (s *Server) User(phone string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[phone]
	if !ok {
		return nil
	}
	out := map[string]any{}
	for k, v := range user {
		out[k] = v
	}
	return out
}

func (s *Server) guard(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[path]++
		failing := s.failing[path]
		s.mu.Unlock()
		if failing {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "unavailable"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r)
	if !ok {
		return
	}
	phone, _ := body["phone"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch body["action"] {
	case "register":
		user, exists := s.users[phone]
		if !exists {
			s.nextID++
			user = map[string]any{"id": s.nextID}
			s.users[phone] = user
		}
		for _, key := range []string{"phone", "firstName", "lastName", "middleName", "email", "birthDate"} {
			if v, ok := body[key]; ok {
				user[key] = v
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	case "login":
		user, exists := s.users[phone]
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "user not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	body, ok := decode(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch body["action"] {
	case "saveMood":
		s.moods = append(s.moods, body)
		writeJSON(w, http.StatusOK, map[string]any{})
	case "updateMedicalCard":
		if user := s.userByID(body["userId"]); user != nil {
			user["medicalCardNumber"] = body["medicalCardNumber"]
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "medicalCardNumber": body["medicalCardNumber"]})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
	}
}

func (s *Server) handleAdvanced(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		switch r.URL.Query().Get("action") {
		case "medications":
			s.list(w, r, "medications")
		case "notes":
			s.list(w, r, "notes")
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		}
		return
	}

	body, ok := decode(w, r)
	if !ok {
		return
	}
	switch body["action"] {
	case "addMedication":
		s.create(w, "medications", body)
	case "addNote":
		s.create(w, "notes", body)
	case "logMedication":
		s.mu.Lock()
		s.nextID++
		body["id"] = s.nextID
		s.logs = append(s.logs, body)
		id := s.nextID
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "logId": id})
	case "updateProfile":
		s.mu.Lock()
		if user := s.userByID(body["userId"]); user != nil {
			for k, v := range body {
				if k != "action" && k != "userId" && k != "sosPinCode" {
					user[k] = v
				}
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case "deleteAccount":
		s.mu.Lock()
		for phone, user := range s.users {
			if sameID(user["id"], body["userId"]) {
				delete(s.users, phone)
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
	}
}

func (s *Server) kindHandler(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.list(w, r, key)
			return
		}
		body, ok := decode(w, r)
		if !ok {
			return
		}
		s.create(w, key, body)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, key string) {
	userID := r.URL.Query().Get("userId")
	s.mu.Lock()
	items := append([]map[string]any{}, s.records[key+":"+userID]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, key: items})
}

func (s *Server) create(w http.ResponseWriter, key string, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record := map[string]any{"id": s.nextID}
	for k, v := range body {
		if k != "action" {
			record[k] = v
		}
	}
	owner := fmt.Sprint(body["userId"])
	s.records[key+":"+owner] = append(s.records[key+":"+owner], record)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) userByID(id any) map[string]any {
	for _, user := range s.users {
		if sameID(user["id"], id) {
			return user
		}
	}
	return nil
}

func sameID(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func decode(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return nil, false
	}
	for k, v := range body {
		if n, ok := v.(json.Number); ok {
			if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				body[k] = i
			}
		}
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
