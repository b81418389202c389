package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/reportbrief_test")
	t.Setenv("CRON_SECRET", "test_cron_secret")
	t.Setenv("RESEND_API_KEY", "re_test_key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("Env: got %q", cfg.Env)
	}
	if cfg.BaseURL != "http://localhost:3000" {
		t.Errorf("BaseURL: got %q", cfg.BaseURL)
	}
	if cfg.EmailFromAddr != "noreply@reportbrief.ca" {
		t.Errorf("EmailFromAddr: got %q", cfg.EmailFromAddr)
	}
	if cfg.QueueBatchSize != 50 {
		t.Errorf("QueueBatchSize: got %d", cfg.QueueBatchSize)
	}
}

func TestLoad_MissingRequiredVarsAreAllReported(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CRON_SECRET", "")
	t.Setenv("RESEND_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, name := range []string{"DATABASE_URL", "CRON_SECRET", "RESEND_API_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}
}

func TestLoad_InvalidBatchSizeFailsValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_BATCH_SIZE", "-5")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "QUEUE_BATCH_SIZE") {
		t.Fatalf("expected batch size error, got %v", err)
	}
}

func TestLoad_NonNumericBatchSizeFallsBackToDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("QUEUE_BATCH_SIZE", "plenty")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueBatchSize != 50 {
		t.Errorf("QueueBatchSize: got %d", cfg.QueueBatchSize)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"price_a", []string{"price_a"}},
		{"price_a,price_b", []string{"price_a", "price_b"}},
		{" price_a , price_b ", []string{"price_a", "price_b"}},
		{"price_a,,price_b,", []string{"price_a", "price_b"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitList(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestLoad_PriceAllowlistsParse(t *testing.T) {
	setRequired(t)
	t.Setenv("STANDARD_PRICE_IDS", "price_std_monthly, price_std_yearly")
	t.Setenv("PRO_PRICE_IDS", "price_pro_monthly")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.StandardPriceIDs) != 2 || cfg.StandardPriceIDs[1] != "price_std_yearly" {
		t.Errorf("StandardPriceIDs: %v", cfg.StandardPriceIDs)
	}
	if len(cfg.ProPriceIDs) != 1 || cfg.ProPriceIDs[0] != "price_pro_monthly" {
		t.Errorf("ProPriceIDs: %v", cfg.ProPriceIDs)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# comment line",
		"",
		"DOTENV_PLAIN=hello",
		`DOTENV_QUOTED="with spaces"`,
		"DOTENV_SQUOTED='single'",
		"not a key value line",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	// Pre-set one key; the file must not override it.
	t.Setenv("DOTENV_PLAIN", "from-env")
	t.Setenv("DOTENV_QUOTED", "")
	t.Setenv("DOTENV_SQUOTED", "")

	loadDotEnv(path)

	if got := os.Getenv("DOTENV_PLAIN"); got != "from-env" {
		t.Errorf("real env must win over .env, got %q", got)
	}
	if got := os.Getenv("DOTENV_QUOTED"); got != "with spaces" {
		t.Errorf("DOTENV_QUOTED: got %q", got)
	}
	if got := os.Getenv("DOTENV_SQUOTED"); got != "single" {
		t.Errorf("DOTENV_SQUOTED: got %q", got)
	}
}
