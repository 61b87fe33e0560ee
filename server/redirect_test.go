package server

import (
	"testing"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		name       string
		registered []string
		supplied   string
		wantURL    string
		wantErr    string
	}{
		{
			name:       "zero registered always fails",
			registered: nil,
			supplied:   "https://app.example.com/cb",
			wantErr:    ErrorCodeInvalidRequest,
		},
		{
			name:       "single registration is the default",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "",
			wantURL:    "https://app.example.com/cb",
		},
		{
			name:       "multiple registrations need an explicit choice",
			registered: []string{"https://a.example.com/cb", "https://b.example.com/cb"},
			supplied:   "",
			wantErr:    ErrorCodeInvalidRequest,
		},
		{
			name:       "exact match",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "https://app.example.com/cb",
			wantURL:    "https://app.example.com/cb",
		},
		{
			name:       "extra query string is accepted",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "https://app.example.com/cb?tab=settings",
			wantURL:    "https://app.example.com/cb?tab=settings",
		},
		{
			name:       "path mismatch fails",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "https://app.example.com/other",
			wantErr:    ErrorCodeInvalidRequest,
		},
		{
			name:       "host mismatch fails",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "https://evil.example.com/cb",
			wantErr:    ErrorCodeInvalidRequest,
		},
		{
			name:       "scheme downgrade fails",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "http://app.example.com/cb",
			wantErr:    ErrorCodeInvalidRequest,
		},
		{
			name:       "relative supplied URI fails",
			registered: []string{"https://app.example.com/cb"},
			supplied:   "/cb",
			wantErr:    ErrorCodeInvalidRequest,
		},
		{
			name:       "second registration matches",
			registered: []string{"https://a.example.com/cb", "https://b.example.com/cb"},
			supplied:   "https://b.example.com/cb?x=1",
			wantURL:    "https://b.example.com/cb?x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &storage.Client{RedirectURIs: tt.registered}
			target, err := resolveRedirect(client, tt.supplied)

			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("want error %s, got target %v", tt.wantErr, target)
				}
				if err.Code != tt.wantErr {
					t.Errorf("error code = %s, want %s", err.Code, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if target.String() != tt.wantURL {
				t.Errorf("target = %s, want %s", target, tt.wantURL)
			}
		})
	}
}

func TestValidateReferrer(t *testing.T) {
	tests := []struct {
		name       string
		registered []string
		referer    string
		wantErr    bool
	}{
		{"no restriction", nil, "https://anywhere.example.com/", false},
		{"absent header passes", []string{"https://app.example.com/"}, "", false},
		{"registered origin passes", []string{"https://app.example.com/"}, "https://app.example.com/?page=1", false},
		{"foreign origin fails", []string{"https://app.example.com/"}, "https://evil.example.com/", true},
		{"malformed referer fails", []string{"https://app.example.com/"}, "://broken", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &storage.Client{ReferrerURIs: tt.registered}
			err := validateReferrer(client, tt.referer)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateReferrer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
