package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("storage: resource session not found")

// ResourceSession maps a res_id to the viewer URL opened on launch. Rows
// never expire; the owner deletes them.
type ResourceSession struct {
	ResID     string    `json:"session"`
	ViewerURL string    `json:"viewer_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ResourceSessions struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewResourceSessions(db *sql.DB) *ResourceSessions {
	return &ResourceSessions{DB: db}
}

// Save inserts or replaces the viewer URL for resID.
func (s *ResourceSessions) Save(ctx context.Context, resID, viewerURL string) (ResourceSession, error) {
	resID, viewerURL = strings.TrimSpace(resID), strings.TrimSpace(viewerURL)
	if resID == "" || viewerURL == "" {
		return ResourceSession{}, errors.New("storage: res_id and viewer_url required")
	}
	now := s.now().Unix()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO resource_sessions (res_id, viewer_url, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (res_id) DO UPDATE SET
			viewer_url=excluded.viewer_url,
			updated_at=excluded.updated_at`,
		resID, viewerURL, now)
	if err != nil {
		return ResourceSession{}, err
	}
	return s.Get(ctx, resID)
}

func (s *ResourceSessions) Get(ctx context.Context, resID string) (ResourceSession, error) {
	var (
		rs               ResourceSession
		created, updated int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT res_id, viewer_url, created_at, updated_at FROM resource_sessions WHERE res_id=$1`, resID).
		Scan(&rs.ResID, &rs.ViewerURL, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ResourceSession{}, ErrNotFound
	}
	if err != nil {
		return ResourceSession{}, err
	}
	rs.CreatedAt = time.Unix(created, 0).UTC()
	rs.UpdatedAt = time.Unix(updated, 0).UTC()
	return rs, nil
}

// ViewerURL implements the launch flow's resource lookup.
func (s *ResourceSessions) ViewerURL(ctx context.Context, resID string) (string, bool, error) {
	rs, err := s.Get(ctx, resID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rs.ViewerURL, true, nil
}

func (s *ResourceSessions) Delete(ctx context.Context, resID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM resource_sessions WHERE res_id=$1`, resID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ResourceSessions) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *ResourceSessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
