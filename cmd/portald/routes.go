package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gymassist-backend/lib/scrapers/clubos/core"
	"gymassist-backend/lib/timezone"
	"gymassist-backend/services/keychain"
	"gymassist-backend/services/portal"
)

func registerRoutes(mux *http.ServeMux, service *portal.Service) {
	mux.HandleFunc("GET /v1/calendar/events", func(w http.ResponseWriter, r *http.Request) {
		date, err := parseDateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		events, err := service.GetCalendarEvents(r.Context(), date)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, events)
	})

	mux.HandleFunc("GET /v1/calendar/slots", func(w http.ResponseWriter, r *http.Request) {
		date, err := parseDateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		slots, err := service.GetAvailableSlots(r.Context(), date)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, slots)
	})

	mux.HandleFunc("POST /v1/calendar/book", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MemberName   string `json:"member_name"`
			Start        string `json:"start"`
			DurationMins int    `json:"duration_mins"`
			EventType    string `json:"event_type"`
			Notes        string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		start, err := time.Parse(time.RFC3339, body.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err = service.BookAppointment(r.Context(), portal.BookingRequest{
			MemberName: body.MemberName,
			Start:      start,
			Duration:   time.Duration(body.DurationMins) * time.Minute,
			EventType:  body.EventType,
			Notes:      body.Notes,
		})
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, map[string]bool{"booked": true})
	})

	mux.HandleFunc("POST /v1/calendar/events/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := service.CancelEvent(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, map[string]bool{"cancelled": true})
	})

	mux.HandleFunc("POST /v1/messages/text", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Recipient string `json:"recipient"`
			Text      string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := service.SendMessage(r.Context(), body.Recipient, body.Text); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, map[string]bool{"sent": true})
	})

	mux.HandleFunc("POST /v1/messages/email", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Recipient string `json:"recipient"`
			Subject   string `json:"subject"`
			Body      string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := service.SendEmail(r.Context(), body.Recipient, body.Subject, body.Body); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, map[string]bool{"sent": true})
	})

	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, service.Stats())
	})
}

func parseDateParam(r *http.Request) (time.Time, error) {
	value := r.URL.Query().Get("date")
	if value == "" {
		return timezone.Now(), nil
	}
	return time.ParseInLocation("2006-01-02", value, timezone.Location)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, portal.ErrMemberNotFound), errors.Is(err, keychain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, portal.ErrSlotUnavailable):
		return http.StatusConflict
	case errors.Is(err, core.ErrVerificationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
