package emergency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"resqlink.org/internal/files"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/ids"
	"resqlink.org/internal/notify"
	"resqlink.org/internal/obs"
	"resqlink.org/internal/policy"
)

const maxAttachments = 3

// allowedExtensions is the attachment whitelist. Anything else rejects the
// whole submission before a single blob is written.
var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".pdf":  {},
	".mp4":  {},
}

// Service applies the policy engine's visibility filter to every entity
// operation before it reaches storage.
type Service struct {
	store   Store
	blobs   files.Store
	users   identity.Store
	gateway notify.Gateway
	now     func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source. Only intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the entity service layer.
func NewService(store Store, blobs files.Store, users identity.Store, gateway notify.Gateway, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("emergency: store is required")
	}
	if blobs == nil {
		return nil, errors.New("emergency: blob store is required")
	}
	if users == nil {
		return nil, errors.New("emergency: identity store is required")
	}
	if gateway == nil {
		gateway = notify.LogGateway{}
	}
	s := &Service{store: store, blobs: blobs, users: users, gateway: gateway, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// filterFrom renders a policy decision as a storage filter.
func filterFrom(caller policy.Caller, d policy.Decision) Filter {
	f := Filter{
		Villages:      d.Villages,
		Empty:         d.Empty,
		IncludeGlobal: d.IncludeGlobal,
	}
	if d.OwnOnly {
		f.OwnerID = caller.RealID
	}
	return f
}

// --- Reports ---

// ReportInput is a report submission before attachment handling.
type ReportInput struct {
	Description string
	Latitude    float64
	Longitude   float64
}

// Attachment is an uploaded file: its client-supplied name (for the
// extension check) and content.
type Attachment struct {
	Name    string
	Content io.Reader
}

// ListReports returns the reports visible to the caller, optionally narrowed
// to one village. Narrowing can only shrink the permitted scope.
func (s *Service) ListReports(ctx context.Context, caller policy.Caller, villageID int64) ([]*Report, error) {
	d, err := policy.Authorize(caller, policy.EntityReport, policy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListReports(ctx, filterFrom(caller, d.Narrow(villageID)))
}

// SubmitReport validates attachments, stores their blobs and inserts the
// report together with the village counter bump. Nothing is persisted if any
// step rejects: validation precedes every write, and a storage failure
// removes the already-saved blobs.
func (s *Service) SubmitReport(ctx context.Context, caller policy.Caller, in ReportInput, attachments []Attachment) (*Report, error) {
	d, err := policy.Authorize(caller, policy.EntityReport, policy.OpCreate)
	if err != nil {
		return nil, err
	}
	villageID := caller.Scope.VillageID
	if !d.AllowsVillage(villageID) {
		return nil, policy.ErrAccessDenied
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if err := validateAttachments(attachments); err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(attachments))
	for _, att := range attachments {
		ref, err := s.blobs.Save(ctx, att.Name, att.Content)
		if err != nil {
			s.removeBlobs(ctx, refs)
			return nil, err
		}
		refs = append(refs, ref)
	}

	report := &Report{
		ID:          ids.New(),
		UserID:      caller.RealID,
		VillageID:   villageID,
		Description: strings.TrimSpace(in.Description),
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Attachments: refs,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		s.removeBlobs(ctx, refs)
		return nil, err
	}
	obs.CountReportSubmitted(strconv.FormatInt(villageID, 10))
	return report, nil
}

// DeleteReport is the head's operational override. It is bound to the head's
// own village: a report elsewhere is not deletable, not merely invisible.
func (s *Service) DeleteReport(ctx context.Context, caller policy.Caller, id string) error {
	d, err := policy.Authorize(caller, policy.EntityReport, policy.OpDelete)
	if err != nil {
		return err
	}
	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if !d.AllowsVillage(report.VillageID) {
		return policy.ErrAccessDenied
	}
	if err := s.store.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.removeBlobs(ctx, report.Attachments)
	return nil
}

func validateAttachments(attachments []Attachment) error {
	if len(attachments) > maxAttachments {
		return fmt.Errorf("%w: at most %d attachments per submission", ErrInvalidInput, maxAttachments)
	}
	for _, att := range attachments {
		ext := strings.ToLower(filepath.Ext(att.Name))
		if _, ok := allowedExtensions[ext]; !ok {
			return fmt.Errorf("%w: attachment type %q is not allowed", ErrInvalidInput, ext)
		}
	}
	return nil
}

func (s *Service) removeBlobs(ctx context.Context, refs []string) {
	for _, ref := range refs {
		_ = s.blobs.Remove(ctx, ref)
	}
}

// --- SOS ---

// SOSInput is a distress signal submission.
type SOSInput struct {
	Latitude  float64
	Longitude float64
	Message   string
}

func (s *Service) ListSOS(ctx context.Context, caller policy.Caller, villageID int64) ([]*SOSRequest, error) {
	d, err := policy.Authorize(caller, policy.EntitySOS, policy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListSOS(ctx, filterFrom(caller, d.Narrow(villageID)))
}

func (s *Service) SendSOS(ctx context.Context, caller policy.Caller, in SOSInput) (*SOSRequest, error) {
	d, err := policy.Authorize(caller, policy.EntitySOS, policy.OpCreate)
	if err != nil {
		return nil, err
	}
	villageID := caller.Scope.VillageID
	if !d.AllowsVillage(villageID) {
		return nil, policy.ErrAccessDenied
	}
	sos := &SOSRequest{
		ID:        ids.New(),
		UserID:    caller.RealID,
		VillageID: villageID,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Message:   strings.TrimSpace(in.Message),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateSOS(ctx, sos); err != nil {
		return nil, err
	}
	return sos, nil
}

// ResolveSOS removes a handled distress signal. Head only, own village only.
func (s *Service) ResolveSOS(ctx context.Context, caller policy.Caller, id string) error {
	d, err := policy.Authorize(caller, policy.EntitySOS, policy.OpDelete)
	if err != nil {
		return err
	}
	sos, err := s.store.GetSOS(ctx, id)
	if err != nil {
		return err
	}
	if !d.AllowsVillage(sos.VillageID) {
		return policy.ErrAccessDenied
	}
	return s.store.DeleteSOS(ctx, id)
}

// CleanupSOS clears every outstanding distress signal in the head's own
// village at once and returns how many were removed. A village with nothing
// outstanding is not an error.
func (s *Service) CleanupSOS(ctx context.Context, caller policy.Caller) (int, error) {
	d, err := policy.Authorize(caller, policy.EntitySOS, policy.OpDelete)
	if err != nil {
		return 0, err
	}
	villageID := caller.Scope.VillageID
	if !d.AllowsVillage(villageID) {
		return 0, policy.ErrAccessDenied
	}
	return s.store.DeleteSOSByVillage(ctx, villageID)
}

// --- Notes ---

// NoteInput is a note create/update payload.
type NoteInput struct {
	Title string
	Body  string
}

func (s *Service) ListNotes(ctx context.Context, caller policy.Caller, villageID int64) ([]*Note, error) {
	d, err := policy.Authorize(caller, policy.EntityNote, policy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, filterFrom(caller, d.Narrow(villageID)))
}

func (s *Service) CreateNote(ctx context.Context, caller policy.Caller, in NoteInput) (*Note, error) {
	d, err := policy.Authorize(caller, policy.EntityNote, policy.OpCreate)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	note := &Note{
		ID:        ids.New(),
		UserID:    caller.RealID,
		VillageID: caller.Scope.VillageID,
		Title:     strings.TrimSpace(in.Title),
		Body:      in.Body,
		CreatedAt: s.now().UTC(),
	}
	if !d.AllowsVillage(note.VillageID) {
		return nil, policy.ErrAccessDenied
	}
	if err := s.store.CreateNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) UpdateNote(ctx context.Context, caller policy.Caller, id string, in NoteInput) (*Note, error) {
	d, err := policy.Authorize(caller, policy.EntityNote, policy.OpUpdate)
	if err != nil {
		return nil, err
	}
	note, err := s.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.AllowsVillage(note.VillageID) {
		return nil, policy.ErrAccessDenied
	}
	if strings.TrimSpace(in.Title) != "" {
		note.Title = strings.TrimSpace(in.Title)
	}
	note.Body = in.Body
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, caller policy.Caller, id string) error {
	d, err := policy.Authorize(caller, policy.EntityNote, policy.OpDelete)
	if err != nil {
		return err
	}
	note, err := s.store.GetNote(ctx, id)
	if err != nil {
		return err
	}
	if !d.AllowsVillage(note.VillageID) {
		return policy.ErrAccessDenied
	}
	return s.store.DeleteNote(ctx, id)
}

// --- Announcements ---

// AnnouncementInput targets a specific village or, with VillageID 0, every
// village (global).
type AnnouncementInput struct {
	VillageID int64
	Title     string
	Body      string
}

func (s *Service) ListAnnouncements(ctx context.Context, caller policy.Caller, villageID int64) ([]*Announcement, error) {
	d, err := policy.Authorize(caller, policy.EntityAnnouncement, policy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListAnnouncements(ctx, filterFrom(caller, d.Narrow(villageID)))
}

func (s *Service) CreateAnnouncement(ctx context.Context, caller policy.Caller, in AnnouncementInput) (*Announcement, error) {
	d, err := policy.Authorize(caller, policy.EntityAnnouncement, policy.OpCreate)
	if err != nil {
		return nil, err
	}
	target := in.VillageID
	if caller.Role == policy.RoleHead {
		// Heads always publish to their own village.
		target = caller.Scope.VillageID
	}
	if !d.AllowsVillage(target) {
		return nil, policy.ErrAccessDenied
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	ann := &Announcement{
		ID:        ids.New(),
		UserID:    caller.RealID,
		VillageID: target,
		Title:     strings.TrimSpace(in.Title),
		Body:      in.Body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAnnouncement(ctx, ann); err != nil {
		return nil, err
	}
	return ann, nil
}

func (s *Service) DeleteAnnouncement(ctx context.Context, caller policy.Caller, id string) error {
	d, err := policy.Authorize(caller, policy.EntityAnnouncement, policy.OpDelete)
	if err != nil {
		return err
	}
	ann, err := s.store.GetAnnouncement(ctx, id)
	if err != nil {
		return err
	}
	if !d.AllowsVillage(ann.VillageID) {
		return policy.ErrAccessDenied
	}
	return s.store.DeleteAnnouncement(ctx, id)
}

// --- Polygons ---

// PolygonInput carries a hazard overlay; coordinates stay opaque JSON.
type PolygonInput struct {
	Label       string
	Coordinates string
}

func (s *Service) ListPolygons(ctx context.Context, caller policy.Caller, villageID int64) ([]*Polygon, error) {
	d, err := policy.Authorize(caller, policy.EntityPolygon, policy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListPolygons(ctx, filterFrom(caller, d.Narrow(villageID)))
}

func (s *Service) CreatePolygon(ctx context.Context, caller policy.Caller, in PolygonInput) (*Polygon, error) {
	d, err := policy.Authorize(caller, policy.EntityPolygon, policy.OpCreate)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Label) == "" || strings.TrimSpace(in.Coordinates) == "" {
		return nil, fmt.Errorf("%w: label and coordinates are required", ErrInvalidInput)
	}
	poly := &Polygon{
		ID:          ids.New(),
		UserID:      caller.RealID,
		VillageID:   caller.Scope.VillageID,
		Label:       strings.TrimSpace(in.Label),
		Coordinates: in.Coordinates,
		CreatedAt:   s.now().UTC(),
	}
	if !d.AllowsVillage(poly.VillageID) {
		return nil, policy.ErrAccessDenied
	}
	if err := s.store.CreatePolygon(ctx, poly); err != nil {
		return nil, err
	}
	return poly, nil
}

func (s *Service) UpdatePolygon(ctx context.Context, caller policy.Caller, id string, in PolygonInput) (*Polygon, error) {
	d, err := policy.Authorize(caller, policy.EntityPolygon, policy.OpUpdate)
	if err != nil {
		return nil, err
	}
	poly, err := s.store.GetPolygon(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.AllowsVillage(poly.VillageID) {
		return nil, policy.ErrAccessDenied
	}
	if strings.TrimSpace(in.Label) != "" {
		poly.Label = strings.TrimSpace(in.Label)
	}
	if strings.TrimSpace(in.Coordinates) != "" {
		poly.Coordinates = in.Coordinates
	}
	if err := s.store.UpdatePolygon(ctx, poly); err != nil {
		return nil, err
	}
	return poly, nil
}

func (s *Service) DeletePolygon(ctx context.Context, caller policy.Caller, id string) error {
	d, err := policy.Authorize(caller, policy.EntityPolygon, policy.OpDelete)
	if err != nil {
		return err
	}
	poly, err := s.store.GetPolygon(ctx, id)
	if err != nil {
		return err
	}
	if !d.AllowsVillage(poly.VillageID) {
		return policy.ErrAccessDenied
	}
	return s.store.DeletePolygon(ctx, id)
}

// --- Villages ---

func (s *Service) ListVillages(ctx context.Context, caller policy.Caller) ([]*Village, error) {
	d, err := policy.Authorize(caller, policy.EntityVillage, policy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListVillages(ctx, filterFrom(caller, d))
}

// StatusInput updates the free-form status tags of a village.
type StatusInput struct {
	EmergencyStatus string
	ServiceStatus   string
}

// UpdateVillageStatus lets a head adjust their own village's status fields.
func (s *Service) UpdateVillageStatus(ctx context.Context, caller policy.Caller, in StatusInput) (*Village, error) {
	d, err := policy.Authorize(caller, policy.EntityVillage, policy.OpUpdate)
	if err != nil {
		return nil, err
	}
	villageID := caller.Scope.VillageID
	if !d.AllowsVillage(villageID) {
		return nil, policy.ErrAccessDenied
	}
	if err := s.store.UpdateVillageStatus(ctx, villageID, in.EmergencyStatus, in.ServiceStatus); err != nil {
		return nil, err
	}
	return s.store.GetVillage(ctx, villageID)
}

// --- Broadcast ---

// Broadcast fans a message out to every resident of the head's village.
// Delivery is best effort with per-recipient isolation; the returned count
// is the number of successful sends.
func (s *Service) Broadcast(ctx context.Context, caller policy.Caller, text string) (int, error) {
	// Broadcast rides the village-admin gate: head role, own village.
	d, err := policy.Authorize(caller, policy.EntityVillage, policy.OpUpdate)
	if err != nil {
		return 0, err
	}
	villageID := caller.Scope.VillageID
	if !d.AllowsVillage(villageID) {
		return 0, policy.ErrAccessDenied
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}
	residents, err := s.users.ListUsersByVillage(ctx, villageID)
	if err != nil {
		return 0, err
	}
	recipients := make([]string, 0, len(residents))
	for _, u := range residents {
		recipients = append(recipients, u.Phone)
	}
	return notify.Fanout(ctx, s.gateway, recipients, text), nil
}
