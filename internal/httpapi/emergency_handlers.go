package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"resqlink.org/internal/audit"
	"resqlink.org/internal/auth"
	"resqlink.org/internal/emergency"
	"resqlink.org/internal/files"
	"resqlink.org/internal/policy"
)

func (a *API) caller(w http.ResponseWriter, r *http.Request) (policy.Caller, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing bearer token")
	}
	return caller, ok
}

// --- Reports ---

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	villageID, err := queryVillageID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	reports, err := a.emergency.ListReports(r.Context(), caller, villageID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reports})
}

type reportRequest struct {
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// handleSubmitReport accepts either a JSON body or a multipart form with up
// to three attachment parts.
func (a *API) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var (
		in          emergency.ReportInput
		attachments []emergency.Attachment
	)
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			writeError(w, r, http.StatusBadRequest, "malformed multipart form")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		in.Description = r.FormValue("description")
		in.Latitude = parseFloat(r.FormValue("latitude"))
		in.Longitude = parseFloat(r.FormValue("longitude"))
		for _, header := range r.MultipartForm.File["attachments"] {
			f, err := header.Open()
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "unreadable attachment")
				return
			}
			defer f.Close()
			attachments = append(attachments, emergency.Attachment{
				Name:    header.Filename,
				Content: f,
			})
		}
	} else {
		var req reportRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		in = emergency.ReportInput{Description: req.Description, Latitude: req.Latitude, Longitude: req.Longitude}
	}

	report, err := a.emergency.SubmitReport(r.Context(), caller, in, attachments)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "report.submit", map[string]any{
		"report_id":   report.ID,
		"village_id":  report.VillageID,
		"attachments": len(report.Attachments),
	})
	writeJSON(w, http.StatusCreated, report)
}

func (a *API) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.emergency.DeleteReport(r.Context(), caller, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "report.delete", map[string]any{"report_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- SOS ---

func (a *API) handleListSOS(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	villageID, err := queryVillageID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.emergency.ListSOS(r.Context(), caller, villageID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type sosRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Message   string  `json:"message"`
}

func (a *API) handleSendSOS(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req sosRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sos, err := a.emergency.SendSOS(r.Context(), caller, emergency.SOSInput{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Message:   req.Message,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "sos.send", map[string]any{
		"sos_id":     sos.ID,
		"village_id": sos.VillageID,
	})
	writeJSON(w, http.StatusCreated, sos)
}

func (a *API) handleResolveSOS(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.emergency.ResolveSOS(r.Context(), caller, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "sos.resolve", map[string]any{"sos_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCleanupSOS(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	removed, err := a.emergency.CleanupSOS(r.Context(), caller)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "sos.cleanup", map[string]any{"removed": removed})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// --- Notes ---

type noteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *API) handleListNotes(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	villageID, err := queryVillageID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.emergency.ListNotes(r.Context(), caller, villageID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	note, err := a.emergency.CreateNote(r.Context(), caller, emergency.NoteInput{Title: req.Title, Body: req.Body})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (a *API) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	note, err := a.emergency.UpdateNote(r.Context(), caller, chi.URLParam(r, "id"), emergency.NoteInput{Title: req.Title, Body: req.Body})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *API) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.emergency.DeleteNote(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Announcements ---

type announcementRequest struct {
	VillageID int64  `json:"village_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

func (a *API) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	villageID, err := queryVillageID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.emergency.ListAnnouncements(r.Context(), caller, villageID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req announcementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ann, err := a.emergency.CreateAnnouncement(r.Context(), caller, emergency.AnnouncementInput{
		VillageID: req.VillageID,
		Title:     req.Title,
		Body:      req.Body,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "announcement.create", map[string]any{
		"announcement_id": ann.ID,
		"village_id":      ann.VillageID,
	})
	writeJSON(w, http.StatusCreated, ann)
}

func (a *API) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.emergency.DeleteAnnouncement(r.Context(), caller, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "announcement.delete", map[string]any{"announcement_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- Polygons ---

type polygonRequest struct {
	Label       string `json:"label"`
	Coordinates string `json:"coordinates"`
}

func (a *API) handleListPolygons(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	villageID, err := queryVillageID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.emergency.ListPolygons(r.Context(), caller, villageID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreatePolygon(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req polygonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	poly, err := a.emergency.CreatePolygon(r.Context(), caller, emergency.PolygonInput{
		Label:       req.Label,
		Coordinates: req.Coordinates,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, poly)
}

func (a *API) handleUpdatePolygon(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req polygonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	poly, err := a.emergency.UpdatePolygon(r.Context(), caller, chi.URLParam(r, "id"), emergency.PolygonInput{
		Label:       req.Label,
		Coordinates: req.Coordinates,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poly)
}

func (a *API) handleDeletePolygon(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.emergency.DeletePolygon(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Villages ---

func (a *API) handleListVillages(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	items, err := a.emergency.ListVillages(r.Context(), caller)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type statusRequest struct {
	EmergencyStatus string `json:"emergency_status"`
	ServiceStatus   string `json:"service_status"`
}

func (a *API) handleUpdateVillageStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	village, err := a.emergency.UpdateVillageStatus(r.Context(), caller, emergency.StatusInput{
		EmergencyStatus: req.EmergencyStatus,
		ServiceStatus:   req.ServiceStatus,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "village.status_update", map[string]any{
		"village_id": village.ID,
	})
	writeJSON(w, http.StatusOK, village)
}

// --- Broadcast ---

type broadcastRequest struct {
	Message string `json:"message"`
}

func (a *API) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req broadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sent, err := a.emergency.Broadcast(r.Context(), caller, req.Message)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "broadcast.send", map[string]any{
		"village_id": caller.Scope.VillageID,
		"sent":       sent,
	})
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

// --- Files ---

func (a *API) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.caller(w, r); !ok {
		return
	}
	ref := chi.URLParam(r, "ref")
	rc, err := a.blobs.Open(r.Context(), ref)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(ref)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", "inline")
	_, _ = io.Copy(w, rc)
}

func parseFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v
}
