package server

import (
	"time"

	"github.com/ademmoe/jads/internal/config"
)

type Options struct {
	Bind     string
	Port     int
	LogLevel string
	DataDir  string
	Version  string

	Storage string
	Minio   config.MinioConfig

	SweepInterval time.Duration
	SessionTTL    time.Duration
}

// fileView is a registry record shaped for the dashboard, with the share
// URL already assembled from the configured base domain.
type fileView struct {
	ID           int64      `json:"id"`
	OriginalName string     `json:"original_name"`
	Slug         string     `json:"slug"`
	ShareURL     string     `json:"share_url"`
	Uploader     string     `json:"uploader"`
	Downloads    int64      `json:"downloads"`
	Checksum     string     `json:"checksum"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UploadedAt   time.Time  `json:"uploaded_at"`
}

type userView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type auditView struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Username  string    `json:"username"`
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
}

type settingsView struct {
	BaseDomain      string `json:"base_domain"`
	MaintenanceMode bool   `json:"maintenance_mode"`
	MaxUploadSizeMB int64  `json:"max_upload_size"`
}
