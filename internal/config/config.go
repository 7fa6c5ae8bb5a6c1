// Package config holds all application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Storage backend identifiers for the persisted OAuth token.
const (
	StorageKeyring = "keyring"
	StorageFile    = "file"
)

// Default Gmail scope: send-only, the minimum the notifier needs.
const GmailSendScope = "https://www.googleapis.com/auth/gmail.send"

// GoogleConfig holds the OAuth2 client settings and token storage selection.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	Storage      string // "keyring" or "file"
	TokenPath    string // file backend location
	LoginHint    string
}

// MonitorConfig holds the motion-monitoring pipeline settings.
type MonitorConfig struct {
	DeviceIndex      int
	Sensitivity      int           // minimum contour area to qualify
	MinInterval      time.Duration // cooldown between sent notifications
	ToEmail          string
	Sender           string // optional From override
	Snapshot         bool   // attach a JPEG of the triggering frame
	Subject          string
	Body             string
	HourlySummary    bool
	SummaryPeriod    time.Duration
	AnomalyThreshold int // contour count at/above which an event is anomalous
}

// Config is the top-level application configuration.
type Config struct {
	Google  GoogleConfig
	Monitor MonitorConfig
	Debug   bool
}

// NewDefaultConfig returns a Config with default values matching the CLI defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Google: GoogleConfig{
			Scopes:    []string{GmailSendScope},
			Storage:   StorageKeyring,
			TokenPath: "token.json",
		},
		Monitor: MonitorConfig{
			DeviceIndex:      0,
			Sensitivity:      500,
			MinInterval:      60 * time.Second,
			Subject:          "CEN motion detected",
			Body:             "Motion was detected by your camera.",
			SummaryPeriod:    time.Hour,
			AnomalyThreshold: 5,
		},
	}
}

// ParseScopes splits a comma-separated scope list, dropping empty entries.
func ParseScopes(raw string) []string {
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// Getenv returns the first set environment variable from names.
func Getenv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the fields every command needs before any network activity.
func (g *GoogleConfig) Validate() error {
	if g.ClientID == "" || g.ClientSecret == "" {
		return fmt.Errorf("google OAuth client-id and client-secret are required (set GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET)")
	}
	if g.Storage != StorageKeyring && g.Storage != StorageFile {
		return fmt.Errorf("unknown token storage backend %q (want %q or %q)", g.Storage, StorageKeyring, StorageFile)
	}
	if len(g.Scopes) == 0 {
		return fmt.Errorf("at least one OAuth scope is required")
	}
	return nil
}
