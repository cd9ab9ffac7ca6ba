package infra

import (
	"testing"

	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("TENANT_MODE", "")
	t.Setenv("CREDIT_FLOOR", "")
	t.Setenv("ALLOWED_CONTENT_TYPES", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TenantMode != domain.TenantModeMulti {
		t.Fatalf("TenantMode = %q, want multi", cfg.TenantMode)
	}
	if !cfg.CreditFloor.IsZero() {
		t.Fatalf("CreditFloor = %s, want 0", cfg.CreditFloor)
	}
	if cfg.DefaultProvider != "local" {
		t.Fatalf("DefaultProvider = %q, want local", cfg.DefaultProvider)
	}
	if len(cfg.AllowedContentTypes) == 0 {
		t.Fatal("AllowedContentTypes default is empty")
	}
	if cfg.DBMaxConns != 10 || cfg.DBMinConns != 1 {
		t.Fatalf("pool sizing = %d/%d, want 10/1", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestLoadConfigRejectsInvertedPoolSizing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("DB_MAX_CONNS", "2")
	t.Setenv("DB_MIN_CONNS", "5")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted DB_MIN_CONNS above DB_MAX_CONNS")
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig succeeded without DATABASE_URL")
	}
}

func TestLoadConfigSingleTenantNeedsDefaultTenant(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("TENANT_MODE", "single")
	t.Setenv("DEFAULT_TENANT_ID", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig succeeded without DEFAULT_TENANT_ID in single-tenant mode")
	}

	t.Setenv("DEFAULT_TENANT_ID", "tenant-main")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TenantMode != domain.TenantModeSingle || cfg.DefaultTenantID != "tenant-main" {
		t.Fatalf("single-tenant config = %q/%q", cfg.TenantMode, cfg.DefaultTenantID)
	}
}

func TestLoadConfigRejectsUnknownTenantMode(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("TENANT_MODE", "hybrid")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted unknown tenant mode")
	}
}

func TestLoadConfigParsesCreditFloor(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("CREDIT_FLOOR", "-5.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.CreditFloor.Equal(decimal.RequireFromString("-5.5")) {
		t.Fatalf("CreditFloor = %s, want -5.5", cfg.CreditFloor)
	}

	t.Setenv("CREDIT_FLOOR", "not-a-number")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted malformed CREDIT_FLOOR")
	}
}

func TestLoadConfigSplitsContentTypeList(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("ALLOWED_CONTENT_TYPES", "image/png, video/mp4 ,,text/plain")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"image/png", "video/mp4", "text/plain"}
	if len(cfg.AllowedContentTypes) != len(want) {
		t.Fatalf("AllowedContentTypes = %#v, want %#v", cfg.AllowedContentTypes, want)
	}
	for i, ct := range want {
		if cfg.AllowedContentTypes[i] != ct {
			t.Fatalf("AllowedContentTypes[%d] = %q, want %q", i, cfg.AllowedContentTypes[i], ct)
		}
	}
}
