// Package config loads and validates the backup configuration. All defaults
// are applied up front and every problem is reported in one pass, so a bad
// configuration fails before any control-plane work starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"gopkg.in/yaml.v2"
)

// RunningVMPolicy controls what happens when a backup target is running.
type RunningVMPolicy string

const (
	PolicyPause   RunningVMPolicy = "pause"
	PolicySuspend RunningVMPolicy = "suspend"
	PolicySkip    RunningVMPolicy = "skip"
	PolicyFail    RunningVMPolicy = "fail"
	// PolicyAllow proceeds with the export without any state transition.
	// The disk may still be locked by the hypervisor.
	PolicyAllow RunningVMPolicy = "allow"
)

// Valid reports whether the policy is one of the recognized values.
func (p RunningVMPolicy) Valid() bool {
	switch p {
	case PolicyPause, PolicySuspend, PolicySkip, PolicyFail, PolicyAllow:
		return true
	}
	return false
}

// Config is the fully-typed backup configuration.
type Config struct {
	BackupDirectory     string          `yaml:"backup_directory" json:"backup_directory"`
	RetentionDays       int             `yaml:"retention_days" json:"retention_days"`
	VMsToBackup         []string        `yaml:"vms_to_backup" json:"vms_to_backup"`
	VMsToExclude        []string        `yaml:"vms_to_exclude" json:"vms_to_exclude"`
	Compression         bool            `yaml:"compression" json:"compression"`
	IncludeManifest     bool            `yaml:"include_manifest" json:"include_manifest"`
	HandleRunningVMs    RunningVMPolicy `yaml:"handle_running_vms" json:"handle_running_vms"`
	ResumeAfterBackup   bool            `yaml:"resume_after_backup" json:"resume_after_backup"`
	VBoxManagePath      string          `yaml:"vboxmanage_path" json:"vboxmanage_path"`
	AutoCleanup         bool            `yaml:"auto_cleanup" json:"auto_cleanup"`
	LogFile             string          `yaml:"log_file" json:"log_file"`
	LogLevel            string          `yaml:"log_level" json:"log_level"`
	EncryptionRecipient string          `yaml:"encryption_recipient" json:"encryption_recipient"`
}

// Default returns the configuration used when no file is present, matching
// the documented defaults.
func Default() Config {
	return Config{
		BackupDirectory:   "./backups",
		RetentionDays:     30,
		Compression:       true,
		IncludeManifest:   true,
		HandleRunningVMs:  PolicyPause,
		ResumeAfterBackup: true,
		VBoxManagePath:    "VBoxManage",
		AutoCleanup:       true,
		LogFile:           "backup.log",
		LogLevel:          "info",
	}
}

// ValidationError carries the complete list of configuration problems.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Load reads the configuration file at path, layered over Default(). YAML
// and JSON are selected by extension. A missing file returns os.ErrNotExist
// wrapped; callers decide whether that is fatal for their mode.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and returns a *ValidationError
// enumerating every missing or invalid field, or nil when it is usable.
// Unrecognized handle_running_vms values are rejected here rather than being
// silently treated as "proceed anyway".
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.BackupDirectory) == "" {
		problems = append(problems, "backup_directory must not be empty")
	}
	if c.RetentionDays < 0 {
		problems = append(problems, fmt.Sprintf("retention_days must be >= 0, got %d", c.RetentionDays))
	}
	if !c.HandleRunningVMs.Valid() {
		problems = append(problems, fmt.Sprintf(
			"handle_running_vms must be one of pause, suspend, skip, fail, allow; got %q", c.HandleRunningVMs))
	}
	if strings.TrimSpace(c.VBoxManagePath) == "" {
		problems = append(problems, "vboxmanage_path must not be empty")
	}
	if c.EncryptionRecipient != "" {
		if _, err := age.ParseX25519Recipient(c.EncryptionRecipient); err != nil {
			problems = append(problems, fmt.Sprintf("encryption_recipient is not a valid age recipient: %v", err))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Recipient parses the configured age recipient, or returns nil when
// encryption is disabled. Validate is expected to have run first.
func (c *Config) Recipient() (age.Recipient, error) {
	if c.EncryptionRecipient == "" {
		return nil, nil
	}
	return age.ParseX25519Recipient(c.EncryptionRecipient)
}
