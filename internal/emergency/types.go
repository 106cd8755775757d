package emergency

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("emergency: invalid input")
	ErrNotFound     = errors.New("emergency: not found")
)

// Village is the unit every incident record is attributed to.
type Village struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Population      int64  `json:"population"`
	EmergencyStatus string `json:"emergency_status"`
	ServiceStatus   string `json:"service_status"`
	ReportsToday    int64  `json:"reports_today"`
}

// Report is a villager-submitted incident with optional attachments.
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	VillageID   int64     `json:"village_id"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SOSRequest is an urgent distress signal. Resolution deletes the record.
type SOSRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	VillageID int64     `json:"village_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is head-authored operational bookkeeping for a village.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	VillageID int64     `json:"village_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Announcement is a published notice. VillageID 0 means global: visible to
// every role regardless of scope.
type Announcement struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	VillageID int64     `json:"village_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Polygon is a hazard area overlay. Coordinates are stored as the raw JSON
// the client submitted; no geometry is computed here.
type Polygon struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	VillageID   int64     `json:"village_id"`
	Label       string    `json:"label"`
	Coordinates string    `json:"coordinates"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter is the storage-level rendering of a policy decision plus an
// optional requested village narrowing, already intersected by the service.
type Filter struct {
	OwnerID       string
	Villages      []int64
	Empty         bool
	IncludeGlobal bool
}

// Store is the persistence boundary for incident records and villages. Every
// mutating call is expected to be atomic; CreateReport must insert the
// report and bump the village counter in one transaction.
type Store interface {
	CreateReport(ctx context.Context, r *Report) error
	ListReports(ctx context.Context, f Filter) ([]*Report, error)
	GetReport(ctx context.Context, id string) (*Report, error)
	DeleteReport(ctx context.Context, id string) error

	CreateSOS(ctx context.Context, s *SOSRequest) error
	ListSOS(ctx context.Context, f Filter) ([]*SOSRequest, error)
	GetSOS(ctx context.Context, id string) (*SOSRequest, error)
	DeleteSOS(ctx context.Context, id string) error
	DeleteSOSByVillage(ctx context.Context, villageID int64) (int, error)

	CreateNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, f Filter) ([]*Note, error)
	GetNote(ctx context.Context, id string) (*Note, error)
	UpdateNote(ctx context.Context, n *Note) error
	DeleteNote(ctx context.Context, id string) error

	CreateAnnouncement(ctx context.Context, a *Announcement) error
	ListAnnouncements(ctx context.Context, f Filter) ([]*Announcement, error)
	GetAnnouncement(ctx context.Context, id string) (*Announcement, error)
	DeleteAnnouncement(ctx context.Context, id string) error

	CreatePolygon(ctx context.Context, p *Polygon) error
	ListPolygons(ctx context.Context, f Filter) ([]*Polygon, error)
	GetPolygon(ctx context.Context, id string) (*Polygon, error)
	UpdatePolygon(ctx context.Context, p *Polygon) error
	DeletePolygon(ctx context.Context, id string) error

	GetVillage(ctx context.Context, id int64) (*Village, error)
	ListVillages(ctx context.Context, f Filter) ([]*Village, error)
	UpdateVillageStatus(ctx context.Context, id int64, emergencyStatus, serviceStatus string) error
}
