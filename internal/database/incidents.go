package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
)

const defaultLocationName = "Default Location"

// GetOrCreateDefaultLocation returns the fallback location new cameras
// attach to.
func (d *Database) GetOrCreateDefaultLocation() (*models.Location, error) {
	row := d.DB.QueryRow(`SELECT id, name FROM locations WHERE name = $1`, defaultLocationName)

	var loc models.Location
	err := row.Scan(&loc.ID, &loc.Name)
	if err == nil {
		return &loc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get default location: %w", wrapPQ(err))
	}

	loc = models.Location{ID: uuid.NewString(), Name: defaultLocationName}
	_, err = d.DB.Exec(
		`INSERT INTO locations (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		loc.ID, loc.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create default location: %w", wrapPQ(err))
	}

	// Another agent may have won the insert race.
	row = d.DB.QueryRow(`SELECT id, name FROM locations WHERE name = $1`, defaultLocationName)
	if err := row.Scan(&loc.ID, &loc.Name); err != nil {
		return nil, fmt.Errorf("failed to get default location: %w", wrapPQ(err))
	}
	return &loc, nil
}

// FindOrCreateCamera resolves the camera row for a video source, creating
// it under the default location on first sight.
func (d *Database) FindOrCreateCamera(sourceType, sourceURL, name string) (*models.Camera, error) {
	row := d.DB.QueryRow(`
		SELECT id, location_id, source_type, source_url, name, status, created_at
		FROM cameras
		WHERE source_type = $1 AND source_url = $2
	`, sourceType, sourceURL)

	var cam models.Camera
	err := row.Scan(&cam.ID, &cam.LocationID, &cam.SourceType, &cam.SourceURL, &cam.Name, &cam.Status, &cam.CreatedAt)
	if err == nil {
		return &cam, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find camera: %w", wrapPQ(err))
	}

	loc, err := d.GetOrCreateDefaultLocation()
	if err != nil {
		return nil, err
	}

	cam = models.Camera{
		ID:         uuid.NewString(),
		LocationID: loc.ID,
		SourceType: sourceType,
		SourceURL:  sourceURL,
		Name:       name,
		Status:     "offline",
		CreatedAt:  time.Now(),
	}
	_, err = d.DB.Exec(`
		INSERT INTO cameras (id, location_id, source_type, source_url, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_type, source_url) DO NOTHING
	`, cam.ID, loc.ID, cam.SourceType, cam.SourceURL, cam.Name, cam.Status, cam.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera: %w", wrapPQ(err))
	}
	return &cam, nil
}

// SetCameraStatus flips a camera between online and offline.
func (d *Database) SetCameraStatus(cameraID, status string) error {
	_, err := d.DB.Exec(`UPDATE cameras SET status = $1 WHERE id = $2`, status, cameraID)
	return wrapPQ(err)
}

// CreateIncident records a triggered alert. Recording URLs start empty and
// are filled in once the evidence upload completes.
func (d *Database) CreateIncident(incident *models.Incident) error {
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	incident.CreatedAt = time.Now()

	_, err := d.DB.Exec(`
		INSERT INTO incidents (id, camera_id, location_id, confidence, model_used, thumbnail_url, video_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		incident.ID,
		incident.CameraID,
		incident.LocationID,
		incident.Confidence,
		incident.ModelUsed,
		incident.ThumbnailURL,
		incident.VideoURL,
		incident.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", wrapPQ(err))
	}
	return nil
}

// AttachRecording links uploaded evidence to the incident the recording
// started with, even if later triggers fired during the window.
func (d *Database) AttachRecording(incidentID, videoURL, thumbnailURL string) error {
	_, err := d.DB.Exec(
		`UPDATE incidents SET video_url = $1, thumbnail_url = $2 WHERE id = $3`,
		videoURL, thumbnailURL, incidentID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach recording: %w", wrapPQ(err))
	}
	return nil
}
