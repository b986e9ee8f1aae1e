package fields

import "testing"

func TestDefaultsFillZeroValues(t *testing.T) {
	var cfg Config
	cfg.Defaults()

	if cfg.Port != ":8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Errorf("public_base_url = %q", cfg.PublicBaseURL)
	}
	if cfg.AccessTTLMinutes != 60 || cfg.RefreshTTLHours != 24*7 {
		t.Errorf("token ttls = %d/%d", cfg.AccessTTLMinutes, cfg.RefreshTTLHours)
	}
	if cfg.JWTIssuer != "mediadesk" {
		t.Errorf("issuer = %q", cfg.JWTIssuer)
	}
	if cfg.AccessSecret != "" || cfg.RefreshSecret != "" {
		t.Error("secrets must stay empty, auth generates throwaways itself")
	}
	if len(cfg.InvoiceKeywords) == 0 {
		t.Error("no default invoice keywords")
	}
	if cfg.PollIntervalSeconds <= 0 || cfg.PollMaxAttemptsVideo <= 0 {
		t.Errorf("poll knobs = %d/%d", cfg.PollIntervalSeconds, cfg.PollMaxAttemptsVideo)
	}
	if cfg.OtelSampleRate <= 0 || cfg.OtelSampleRate > 1 {
		t.Errorf("otel sample rate = %v", cfg.OtelSampleRate)
	}
}

func TestDefaultsNormalizePort(t *testing.T) {
	cfg := Config{Port: "9000"}
	cfg.Defaults()
	if cfg.Port != ":9000" {
		t.Errorf("port = %q, want the colon prefix added", cfg.Port)
	}
}

func TestDefaultsKeepConfiguredValues(t *testing.T) {
	cfg := Config{
		Port:            ":3000",
		JWTIssuer:       "custom",
		DriveRootFolder: "Receipts",
		InvoiceKeywords: []string{"rechnung"},
	}
	cfg.Defaults()
	if cfg.Port != ":3000" || cfg.JWTIssuer != "custom" || cfg.DriveRootFolder != "Receipts" {
		t.Errorf("configured values clobbered: %+v", cfg)
	}
	if len(cfg.InvoiceKeywords) != 1 || cfg.InvoiceKeywords[0] != "rechnung" {
		t.Errorf("keywords = %v", cfg.InvoiceKeywords)
	}
}
