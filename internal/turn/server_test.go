package turn

import (
	"fmt"
	"net"
	"testing"

	"github.com/pion/turn/v4"
	"github.com/rs/zerolog"
)

func TestServe(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &ConfigOptions{
		PublicIP:     "127.0.0.1",
		Port:         0,
		Username:     "user",
		Password:     "password",
		Realm:        "peerchat.test",
		RelayMinPort: 50000,
		RelayMaxPort: 50100,
	}
	s, err := Serve(&logger, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	port := s.Addr.(*net.UDPAddr).Port

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid credentials", "password", false},
		{"wrong password", "wrong", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			client, err := turn.NewClient(&turn.ClientConfig{
				STUNServerAddr: fmt.Sprintf("127.0.0.1:%d", port),
				TURNServerAddr: fmt.Sprintf("127.0.0.1:%d", port),
				Username:       cfg.Username,
				Password:       tc.password,
				Realm:          cfg.Realm,
				Conn:           conn,
			})
			if err != nil {
				t.Fatal(err)
			}
			defer client.Close()
			if err := client.Listen(); err != nil {
				t.Fatal(err)
			}

			relayConn, err := client.Allocate()
			if tc.wantErr {
				if err == nil {
					relayConn.Close()
					t.Fatal("expected allocation to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("allocation failed: %v", err)
			}
			defer relayConn.Close()

			relayAddr := relayConn.LocalAddr().(*net.UDPAddr)
			if relayAddr.Port < int(cfg.RelayMinPort) || relayAddr.Port > int(cfg.RelayMaxPort) {
				t.Fatalf("relay port is out of range, got %d want [%d, %d]", relayAddr.Port, cfg.RelayMinPort, cfg.RelayMaxPort)
			}
		})
	}
}

func TestICEServer(t *testing.T) {
	cfg := &ConfigOptions{PublicIP: "203.0.113.7", Port: 3478, Username: "user", Password: "password"}
	s := cfg.ICEServer()
	if len(s.URLs) != 1 || s.URLs[0] != "turn:203.0.113.7:3478" {
		t.Fatalf("URLs are incorrect, got %v want %v", s.URLs, []string{"turn:203.0.113.7:3478"})
	}
	if s.Username != "user" || s.Credential != "password" {
		t.Fatalf("credentials are incorrect, got %s/%v want %s/%s", s.Username, s.Credential, "user", "password")
	}
}

func TestValidate(t *testing.T) {
	valid := ConfigOptions{
		PublicIP:     "203.0.113.7",
		Port:         3478,
		Username:     "user",
		Password:     "password",
		RelayMinPort: 50000,
		RelayMaxPort: 55000,
	}
	tests := []struct {
		name    string
		edit    func(o *ConfigOptions)
		wantErr bool
	}{
		{"valid", func(o *ConfigOptions) {}, false},
		{"hostname", func(o *ConfigOptions) { o.PublicIP = "turn.example.com" }, true},
		{"unspecified ip", func(o *ConfigOptions) { o.PublicIP = "0.0.0.0" }, true},
		{"port out of range", func(o *ConfigOptions) { o.Port = 70000 }, true},
		{"no password", func(o *ConfigOptions) { o.Password = "" }, true},
		{"inverted relay range", func(o *ConfigOptions) { o.RelayMinPort, o.RelayMaxPort = 55000, 50000 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := valid
			tc.edit(&o)
			if err := o.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("error is incorrect, got %v want error %t", err, tc.wantErr)
			}
		})
	}

	logger := zerolog.Nop()
	invalid := valid
	invalid.PublicIP = ""
	if _, err := Serve(&logger, &invalid); err == nil {
		t.Fatal("expected Serve to refuse an invalid config")
	}
}
