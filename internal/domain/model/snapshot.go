package model

import "time"

// Snapshot is a point-in-time capture a rollback can restore to.
type Snapshot struct {
	ID             string      `json:"id"`
	Environment    Environment `json:"environment"`
	GitCommit      string      `json:"git_commit"`
	DatabaseBackup *string     `json:"database_backup"`
	ConfigFiles    *string     `json:"config_files"`
	CreatedAt      time.Time   `json:"created_at"`
	Verified       bool        `json:"verified"`
}

func NewSnapshot(env Environment, gitCommit string) Snapshot {
	return Snapshot{
		ID:          generateID(),
		Environment: env,
		GitCommit:   gitCommit,
		CreatedAt:   Now(),
	}
}

func (s Snapshot) WithBackups(databaseBackup, configFiles string) Snapshot {
	if databaseBackup != "" {
		s.DatabaseBackup = &databaseBackup
	}
	if configFiles != "" {
		s.ConfigFiles = &configFiles
	}
	return s
}

// ShortCommit returns the first seven characters of the commit hash.
func (s Snapshot) ShortCommit() string {
	if len(s.GitCommit) > 7 {
		return s.GitCommit[:7]
	}
	return s.GitCommit
}

// RollbackOption is a snapshot offered as a restore target. Unverified
// snapshots are listed with a warning, never hidden.
type RollbackOption struct {
	Snapshot    Snapshot `json:"snapshot"`
	Verified    bool     `json:"verified"`
	Recommended bool     `json:"recommended"`
	Description string   `json:"description"`
	Warning     string   `json:"warning,omitempty"`
}
