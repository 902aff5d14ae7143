// ABOUTME: Worker directory and geographic search
// ABOUTME: Service categories, haversine nearby matching, workerdb listing

package directory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/skilloc/skilloc/internal/store"
)

// DefaultRadiusMeters bounds a search when the request does not give a
// radius.
const DefaultRadiusMeters = 5000

// ServiceCategory is one entry of the static service catalog.
type ServiceCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Services is the static catalog of service categories.
var Services = []ServiceCategory{
	{ID: "electrician", Name: "Electrician"},
	{ID: "plumber", Name: "Plumber"},
	{ID: "mechanic", Name: "Mechanic"},
	{ID: "carpenter", Name: "Carpenter"},
}

// WorkerSummary is a search result: the public subset of a worker record.
type WorkerSummary struct {
	ID         string   `json:"id"`
	FirstName  string   `json:"firstName"`
	LastName   string   `json:"lastName,omitempty"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone,omitempty"`
	Profession string   `json:"profession"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// Directory serves worker lookups over the record store.
type Directory struct {
	records store.Records
	logger  *slog.Logger
}

// New creates a directory. Pass nil logger for the default.
func New(records store.Records, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{records: records, logger: logger.With("component", "directory")}
}

// WorkerLogins lists the worker directory: every worker seen online, with
// last login time and status.
func (d *Directory) WorkerLogins(ctx context.Context) ([]store.WorkerLogin, error) {
	var entries []store.WorkerLogin
	if err := d.records.Read(ctx, store.CollectionWorkerDB, &entries); err != nil {
		return nil, fmt.Errorf("reading worker directory: %w", err)
	}
	if entries == nil {
		entries = []store.WorkerLogin{}
	}
	return entries, nil
}

// Nearby returns workers matching the category within radiusMeters of the
// given point, as the crow flies. Workers without stored coordinates never
// match. radiusMeters <= 0 uses DefaultRadiusMeters.
func (d *Directory) Nearby(ctx context.Context, category string, lat, lng, radiusMeters float64) ([]WorkerSummary, error) {
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("category is required")
	}
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}

	var workers []store.Worker
	if err := d.records.Read(ctx, store.CollectionWorkers, &workers); err != nil {
		return nil, fmt.Errorf("reading workers: %w", err)
	}

	wanted := strings.ToLower(strings.TrimSpace(category))
	matched := []WorkerSummary{}
	for _, w := range workers {
		if w.Latitude == nil || w.Longitude == nil {
			continue
		}
		prof := strings.ToLower(w.Profession)
		// Loose match in both directions: "electrician" finds
		// "Electrician", "master electrician" finds "electrician".
		if !strings.Contains(prof, wanted) && !strings.Contains(wanted, prof) {
			continue
		}
		if haversineMeters(lat, lng, *w.Latitude, *w.Longitude) > radiusMeters {
			continue
		}
		matched = append(matched, WorkerSummary{
			ID:         w.ID,
			FirstName:  w.FirstName,
			LastName:   w.LastName,
			Email:      w.Email,
			Phone:      w.Phone,
			Profession: w.Profession,
			Latitude:   w.Latitude,
			Longitude:  w.Longitude,
		})
	}
	return matched, nil
}

// haversineMeters is the great-circle distance between two points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
