package session

import (
	"testing"

	"github.com/matheus3301/wppcrm/internal/config"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		flag string
		cfg  *config.Config
		want string
	}{
		{"flag wins", "work", &config.Config{DefaultSession: "home"}, "work"},
		{"config default", "", &config.Config{DefaultSession: "home"}, "home"},
		{"no config", "", nil, DefaultSessionName},
		{"empty config", "", &config.Config{}, DefaultSessionName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.flag, tt.cfg); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
