package app

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PRESENCE_API_BASE_URL", "https://api.example.com/v1")
	t.Setenv("PRESENCE_CAMERA_FILE", "/tmp/face.jpg")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CourseID != "CS101" {
		t.Fatalf("CourseID=%q", cfg.CourseID)
	}
	if cfg.ActionWindow != 3*time.Second || cfg.SettleDelay != time.Second {
		t.Fatalf("timing defaults: window=%v settle=%v", cfg.ActionWindow, cfg.SettleDelay)
	}
	if cfg.CaptureQuality != 0.8 {
		t.Fatalf("CaptureQuality=%v", cfg.CaptureQuality)
	}
	if cfg.CameraMode != CameraFile || cfg.RedisKey != "presence:credential" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PRESENCE_API_BASE_URL", "http://127.0.0.1:3000")
	t.Setenv("PRESENCE_CAMERA_MODE", "command")
	t.Setenv("PRESENCE_CAMERA_COMMAND", "snap --quality {quality}")
	t.Setenv("PRESENCE_COURSE_ID", "MA201")
	t.Setenv("PRESENCE_ACTION_WINDOW", "5s")
	t.Setenv("PRESENCE_CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://kiosk.local")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CourseID != "MA201" || cfg.ActionWindow != 5*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://kiosk.local" {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			APIBaseURL:     "https://api.example.com",
			APITimeout:     time.Second,
			CourseID:       "CS101",
			CameraMode:     CameraFile,
			CameraFile:     "face.jpg",
			CaptureQuality: 0.8,
			ActionWindow:   3 * time.Second,
			SettleDelay:    time.Second,
			DBMaxConns:     4,
			LogFormat:      "json",
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing base url", mutate: func(c *Config) { c.APIBaseURL = "" }},
		{name: "relative base url", mutate: func(c *Config) { c.APIBaseURL = "/api" }},
		{name: "blank course", mutate: func(c *Config) { c.CourseID = "  " }},
		{name: "file mode without file", mutate: func(c *Config) { c.CameraFile = "" }},
		{name: "command mode without command", mutate: func(c *Config) { c.CameraMode = CameraCommand }},
		{name: "unknown camera mode", mutate: func(c *Config) { c.CameraMode = "usb" }},
		{name: "quality out of range", mutate: func(c *Config) { c.CaptureQuality = 1.5 }},
		{name: "zero window", mutate: func(c *Config) { c.ActionWindow = 0 }},
		{name: "pool bounds", mutate: func(c *Config) { c.DBMinConns = 5 }},
		{name: "log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}
