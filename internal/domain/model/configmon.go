package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SensitivityTier decides the severity of a drift alert for a file.
type SensitivityTier string

const (
	TierCritical SensitivityTier = "critical"
	TierHigh     SensitivityTier = "high"
	TierMedium   SensitivityTier = "medium"
	TierLow      SensitivityTier = "low"
)

func ParseSensitivityTier(s string) (SensitivityTier, error) {
	switch t := SensitivityTier(strings.ToLower(s)); t {
	case TierCritical, TierHigh, TierMedium, TierLow:
		return t, nil
	}
	return "", fmt.Errorf("unknown sensitivity tier %q", s)
}

func (t SensitivityTier) Severity() Severity {
	return Severity(t)
}

var (
	criticalPathMarkers = []string{"credential", "secret", "password", "passwd", ".env", ".pem", "private", "id_rsa", "key"}
	highPathMarkers     = []string{"auth", "security", "tls", "ssl", "cert", "sudoers", "iam"}
	lowPathMarkers      = []string{"theme", "style", ".css", "locale", "i18n", "font"}
)

// InferSensitivityTier guesses a tier from the file's path.
func InferSensitivityTier(path string) SensitivityTier {
	p := strings.ToLower(filepath.ToSlash(path))
	base := filepath.Base(p)
	for _, m := range criticalPathMarkers {
		if strings.Contains(base, m) {
			return TierCritical
		}
	}
	for _, m := range highPathMarkers {
		if strings.Contains(p, m) {
			return TierHigh
		}
	}
	for _, m := range lowPathMarkers {
		if strings.Contains(p, m) {
			return TierLow
		}
	}
	return TierMedium
}

// ChangeKind classifies a detected drift.
type ChangeKind string

const (
	ChangeContent    ChangeKind = "content"
	ChangePermission ChangeKind = "permission"
	ChangeDeletion   ChangeKind = "deletion"
)

// FileState is what the hasher observes for a path.
type FileState struct {
	Exists  bool
	Hash    string
	Mode    uint32
	ModTime time.Time
}

// ConfigMonitoring tracks one watched configuration file. FileHash and FileMode
// hold the acknowledged baseline, not the latest observation.
type ConfigMonitoring struct {
	ID               string          `json:"id"`
	FilePath         string          `json:"file_path"`
	FileHash         string          `json:"file_hash"`
	FileMode         uint32          `json:"file_mode"`
	Tier             SensitivityTier `json:"sensitivity"`
	LastModified     time.Time       `json:"last_modified"`
	MonitoredSince   time.Time       `json:"monitored_since"`
	ChangeDetectedAt *time.Time      `json:"change_detected_at"`
}

func NewConfigMonitoring(path string, tier SensitivityTier, state FileState) ConfigMonitoring {
	now := Now()
	lastMod := StoredTime(state.ModTime)
	if lastMod.IsZero() {
		lastMod = now
	}
	return ConfigMonitoring{
		ID:             generateID(),
		FilePath:       path,
		FileHash:       state.Hash,
		FileMode:       state.Mode,
		Tier:           tier,
		LastModified:   lastMod,
		MonitoredSince: now,
	}
}

// Compare reports whether state differs from the baseline and how.
func (c ConfigMonitoring) Compare(state FileState) (ChangeKind, bool) {
	switch {
	case !state.Exists:
		return ChangeDeletion, true
	case state.Hash != c.FileHash:
		return ChangeContent, true
	case state.Mode != c.FileMode:
		return ChangePermission, true
	}
	return "", false
}

// DriftSeverity is the tier's severity, raised to at least high for deletions.
func (c ConfigMonitoring) DriftSeverity(kind ChangeKind) Severity {
	sev := c.Tier.Severity()
	if kind == ChangeDeletion {
		sev = sev.AtLeast(SeverityHigh)
	}
	return sev
}

// Acknowledge adopts state as the new baseline.
func (c ConfigMonitoring) Acknowledge(state FileState) ConfigMonitoring {
	c.FileHash = state.Hash
	c.FileMode = state.Mode
	if !state.ModTime.IsZero() {
		c.LastModified = StoredTime(state.ModTime)
	}
	c.ChangeDetectedAt = nil
	return c
}
