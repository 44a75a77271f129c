package companion

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"health-companion/internal/apperr"
	"health-companion/internal/emergency"
	"health-companion/internal/entity"
	"health-companion/internal/profile"
	"health-companion/internal/report"
	"health-companion/internal/session"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("companion: encode response: %v", err)
	}
}

func statusFor(err error) int {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		mismatch   *apperr.PinMismatchError
		transport  *apperr.TransportError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &mismatch):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrPinUnavailable),
		errors.Is(err, emergency.ErrAlreadyTriggered),
		errors.Is(err, emergency.ErrNotConfirming):
		return http.StatusConflict
	case errors.Is(err, report.ErrNoDoctorChat):
		return http.StatusServiceUnavailable
	case errors.As(err, &transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("companion: internal error: %v", err)
	}
	body := map[string]any{"error": err.Error()}
	var validation *apperr.ValidationError
	if errors.As(err, &validation) && len(validation.Fields) > 0 {
		body["fields"] = validation.Fields
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// Session

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req session.Registration
	if !decode(w, r, &req) {
		return
	}
	user, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

type loginRequest struct {
	Phone string `json:"phone"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.svc.Login(r.Context(), req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "hasPin": h.svc.Session.HasPin()})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Session.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.svc.Session.Current()
	if !ok {
		writeError(w, apperr.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         user,
		"version":      h.svc.Session.Version(),
		"hasPin":       h.svc.Session.HasPin(),
		"needsRefresh": h.svc.Session.NeedsRefresh(),
	})
}

// Entities

func listEntities[T any](svc *Service, repo *entity.Repository[T]) http.HandlerFunc {
	key := repo.Kind().ResponseKey
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := svc.Session.UserID()
		if err != nil {
			writeError(w, err)
			return
		}
		items, err := repo.List(r.Context(), userID)
		body := map[string]any{key: items}
		if err != nil {
			if !apperr.IsTransport(err) {
				writeError(w, err)
				return
			}
			body["warning"] = err.Error()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func createEntity[T any](svc *Service, repo *entity.Repository[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := svc.Session.UserID()
		if err != nil {
			writeError(w, err)
			return
		}
		var fields T
		if !decode(w, r, &fields) {
			return
		}
		if err := repo.Create(r.Context(), userID, fields); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
	}
}

// Adherence

func (h *Handler) logMedication(skipped bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.svc.Session.UserID()
		if err != nil {
			writeError(w, err)
			return
		}
		medID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, apperr.Invalid("medicationLog", "medication id must be a number"))
			return
		}
		ev, err := h.svc.Adherence.LogEvent(r.Context(), medID, userID, skipped)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	}
}

// Mood

type moodRequest struct {
	Mood string `json:"mood"`
}

func (h *Handler) SaveMood(w http.ResponseWriter, r *http.Request) {
	userID, err := h.svc.Session.UserID()
	if err != nil {
		writeError(w, err)
		return
	}
	var req moodRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Mood.Submit(r.Context(), userID, req.Mood); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mood": h.svc.Mood.Selected()})
}

// Profile

type medicalCardRequest struct {
	MedicalCardNumber string `json:"medicalCardNumber"`
}

func (h *Handler) UpdateMedicalCard(w http.ResponseWriter, r *http.Request) {
	var req medicalCardRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.svc.Profile.UpdateMedicalCard(r.Context(), req.MedicalCardNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profile.Update
	if !decode(w, r, &req) {
		return
	}
	user, err := h.svc.Profile.UpdateProfile(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Profile.DeleteAccount(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SOS

func (h *Handler) sosState(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]any{
		"state":       h.svc.Gate.State(),
		"requiresPin": h.svc.Gate.RequiresPin(),
	})
}

func (h *Handler) SOSState(w http.ResponseWriter, r *http.Request) {
	h.sosState(w, http.StatusOK)
}

func (h *Handler) SOSConfirm(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Gate.Begin(); err != nil {
		writeError(w, err)
		return
	}
	h.sosState(w, http.StatusOK)
}

type triggerRequest struct {
	Pin string `json:"pin"`
}

func (h *Handler) SOSTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	// The body may be empty when the gate runs without a PIN.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.svc.Gate.Trigger(r.Context(), req.Pin); err != nil {
		writeError(w, err)
		return
	}
	h.sosState(w, http.StatusOK)
}

func (h *Handler) SOSCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Gate.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	h.sosState(w, http.StatusOK)
}

func (h *Handler) SOSReset(w http.ResponseWriter, r *http.Request) {
	h.svc.Gate.Reset()
	h.sosState(w, http.StatusOK)
}

// Birthday and report

func (h *Handler) Birthday(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Birthday()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ReportPDF(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.BuildReport(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="report.pdf"`)
	w.Write(data)
}

func (h *Handler) SendReport(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SendReport(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	repos := h.svc.Repos

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.CurrentSession)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/refresh", h.Refresh)
	})

	r.Get("/medications", listEntities(h.svc, repos.Medications))
	r.Post("/medications", createEntity(h.svc, repos.Medications))
	r.Post("/medications/{id}/taken", h.logMedication(false))
	r.Post("/medications/{id}/skipped", h.logMedication(true))
	r.Get("/doctors", listEntities(h.svc, repos.Doctors))
	r.Post("/doctors", createEntity(h.svc, repos.Doctors))
	r.Get("/grandchildren", listEntities(h.svc, repos.Grandchildren))
	r.Post("/grandchildren", createEntity(h.svc, repos.Grandchildren))
	r.Get("/notes", listEntities(h.svc, repos.Notes))
	r.Post("/notes", createEntity(h.svc, repos.Notes))

	r.Post("/mood", h.SaveMood)

	r.Post("/profile/medical-card", h.UpdateMedicalCard)
	r.Patch("/profile", h.UpdateProfile)
	r.Delete("/profile", h.DeleteAccount)

	r.Route("/sos", func(r chi.Router) {
		r.Get("/", h.SOSState)
		r.Post("/confirm", h.SOSConfirm)
		r.Post("/trigger", h.SOSTrigger)
		r.Post("/cancel", h.SOSCancel)
		r.Post("/reset", h.SOSReset)
	})

	r.Get("/birthday", h.Birthday)
	r.Get("/report.pdf", h.ReportPDF)
	r.Post("/report", h.SendReport)
}
