package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8081" {
		t.Errorf("default port = %s, want 8081", cfg.Port)
	}
	if cfg.AdminUser != "" {
		t.Errorf("admin user should default to disabled, got %q", cfg.AdminUser)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("default session TTL = %v", cfg.SessionTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAKEIBO_ADMIN_USER", "taketo")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("SYNC_BATCH_SIZE", "25")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("port = %s, want 9000", cfg.Port)
	}
	if cfg.AdminUser != "taketo" {
		t.Errorf("admin user = %s, want taketo", cfg.AdminUser)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("session TTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.SyncBatchSize != 25 {
		t.Errorf("sync batch size = %d, want 25", cfg.SyncBatchSize)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Load()
	cfg.Port = "not-a-port"
	cfg.AMQPURL = "http://wrong-scheme"
	cfg.SyncBatchSize = 0
	cfg.SessionTTL = time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"invalid port", "AMQP URL scheme", "sync batch size", "session TTL"} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error missing %q in: %s", want, msg)
		}
	}
}

func TestValidateSheetsRequiresCredentials(t *testing.T) {
	cfg := Load()
	cfg.GoogleSpreadsheetID = "sheet-id"
	cfg.GoogleCredentialsJSON = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when spreadsheet is configured without credentials")
	}

	cfg.GoogleCredentialsJSON = `{"type":"service_account"}`
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected ok with credentials, got %v", err)
	}
}
