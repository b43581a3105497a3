package main

import (
	"fmt"
	"os"
	"testing"

	"github.com/Paranoid-AF/ghostline"
)

func TestListenAddress(t *testing.T) {
	t.Setenv("GHOSTLINE_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	withListen := ghostline.DefaultConfig()
	withListen.Service.Listen = "127.0.0.1:7311"

	tests := []struct {
		name        string
		cfg         *ghostline.Config
		socket      string
		listen      string
		wantNetwork string
		wantAddress string
	}{
		{"resolved socket", ghostline.DefaultConfig(), "", "", "unix", "/run/user/1000/ghostline.sock"},
		{"socket flag", ghostline.DefaultConfig(), "/custom/g.sock", "", "unix", "/custom/g.sock"},
		{"listen flag", ghostline.DefaultConfig(), "/custom/g.sock", "127.0.0.1:9", "tcp", "127.0.0.1:9"},
		{"config listen", withListen, "", "", "tcp", "127.0.0.1:7311"},
		{"socket flag beats config listen", withListen, "/custom/g.sock", "", "unix", "/custom/g.sock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address := listenAddress(tt.cfg, tt.socket, tt.listen)
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("listenAddress() = %s %s, want %s %s", network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}

func TestSocketPathMatchesEditorClient(t *testing.T) {
	tests := []struct {
		name     string
		envSetup func(t *testing.T)
		expected string
	}{
		{
			name: "GHOSTLINE_SOCKET",
			envSetup: func(t *testing.T) {
				t.Setenv("GHOSTLINE_SOCKET", "/custom/ghostline.sock")
			},
			expected: "/custom/ghostline.sock",
		},
		{
			name: "XDG_RUNTIME_DIR",
			envSetup: func(t *testing.T) {
				t.Setenv("GHOSTLINE_SOCKET", "")
				t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
			},
			expected: "/run/user/1000/ghostline.sock",
		},
		{
			name: "fallback",
			envSetup: func(t *testing.T) {
				t.Setenv("GHOSTLINE_SOCKET", "")
				t.Setenv("XDG_RUNTIME_DIR", "")
			},
			expected: fmt.Sprintf("/tmp/ghostline-%d.sock", os.Getuid()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.envSetup(t)
			t.Setenv("GHOSTLINE_SERVICE_URL", "")
			_, address := listenAddress(nil, "", "")
			if got := ghostline.ResolveServiceURL(nil); got != "unix://"+address {
				t.Errorf("editor dials %s, service listens on %s", got, address)
			}
			if address != tt.expected {
				t.Errorf("listenAddress() = %s, expected %s", address, tt.expected)
			}
		})
	}
}
