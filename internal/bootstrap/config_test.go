package bootstrap

import (
	"sort"
	"testing"

	"github.com/hikma01/rankmath-capture-unified-sub000/config"
)

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name     string
		services string
		endpoint string
		wantErr  bool
	}{
		{
			name:     "http requires automation endpoint",
			services: "http",
			wantErr:  true,
		},
		{
			name:     "dispatcher requires automation endpoint",
			services: "dispatcher",
			wantErr:  true,
		},
		{
			name:     "http with endpoint",
			services: "http",
			endpoint: "https://automation.example/webhook/optimize",
		},
		{
			name:     "webhook alone needs no endpoint",
			services: "webhook,reaper",
		},
		{
			name:     "unknown service",
			services: "http,banana",
			endpoint: "https://automation.example/webhook/optimize",
			wantErr:  true,
		},
		{
			name:     "empty services",
			services: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{Services: tt.services}
			cfg.Automation.EndpointURL = tt.endpoint

			err := ValidateServiceConfig(cfg)
			if tt.wantErr && err == nil {
				t.Fatalf("ValidateServiceConfig(%q) = nil, want error", tt.services)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ValidateServiceConfig(%q) = %v, want nil", tt.services, err)
			}
		})
	}
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "http,dispatcher,reaper"}

	got := GetEnabledServices(cfg)
	sort.Strings(got)

	want := []string{"dispatcher", "http", "reaper"}
	if len(got) != len(want) {
		t.Fatalf("GetEnabledServices = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetEnabledServices = %v, want %v", got, want)
		}
	}
}

func TestGetEnabledServicesInvalid(t *testing.T) {
	cfg := &config.AppConfig{Services: "nope"}
	if got := GetEnabledServices(cfg); len(got) != 0 {
		t.Fatalf("GetEnabledServices = %v, want empty", got)
	}
}

func TestBuildFailureNotifierDisabled(t *testing.T) {
	svc := buildFailureNotifier(nil, config.ObservabilityNotificationsConfig{})
	if svc == nil {
		t.Fatal("buildFailureNotifier returned nil for disabled config")
	}
}
