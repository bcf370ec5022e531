package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTLSManager_AutoGenerateCert(t *testing.T) {
	// Create temporary directory for certificates
	tempDir := t.TempDir()

	config := TLSConfig{
		Enabled:          true,
		AutoGenerateCert: true,
		ServerName:       "test-server",
		InsecureSkipTLS:  true, // For testing
	}

	// Test TLS manager creation with auto-generated certificates
	tlsManager, err := NewTLSManager(config, tempDir)
	if err != nil {
		t.Fatalf("Failed to create TLS manager: %v", err)
	}

	// Verify certificate files were created
	expectedFiles := []string{"ca.crt", "ca.key", "server.crt", "server.key", "client.crt", "client.key"}
	for _, file := range expectedFiles {
		filePath := filepath.Join(tempDir, file)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			t.Errorf("Expected certificate file %s was not created", file)
		}
	}

	// Test getting server TLS config
	_, err = tlsManager.ServerTLSConfig()
	if err != nil {
		t.Errorf("Failed to get server TLS config: %v", err)
	}

	// Test getting client TLS config
	_, err = tlsManager.ClientTLSConfig()
	if err != nil {
		t.Errorf("Failed to get client TLS config: %v", err)
	}
}

func TestTLSManager_DisabledTLS(t *testing.T) {
	config := TLSConfig{
		Enabled: false,
	}

	tlsManager, err := NewTLSManager(config, "")
	if err != nil {
		t.Fatalf("Failed to create TLS manager with disabled TLS: %v", err)
	}

	// With TLS disabled, both configs should be nil so callers fall back to
	// the standard unencrypted transport.
	serverConfig, err := tlsManager.ServerTLSConfig()
	if err != nil {
		t.Errorf("Failed to get server TLS config: %v", err)
	}
	if serverConfig != nil {
		t.Error("server TLS config should be nil when TLS is disabled")
	}

	clientConfig, err := tlsManager.ClientTLSConfig()
	if err != nil {
		t.Errorf("Failed to get client TLS config: %v", err)
	}
	if clientConfig != nil {
		t.Error("client TLS config should be nil when TLS is disabled")
	}
}

func TestTLSManager_HTTPClient(t *testing.T) {
	tempDir := t.TempDir()

	config := TLSConfig{
		Enabled:          true,
		AutoGenerateCert: true,
		ServerName:       "test-server",
		InsecureSkipTLS:  true,
	}

	tlsManager, err := NewTLSManager(config, tempDir)
	if err != nil {
		t.Fatalf("Failed to create TLS manager: %v", err)
	}

	// Test server TLS config is populated
	serverConfig, err := tlsManager.ServerTLSConfig()
	if err != nil {
		t.Errorf("Failed to get server TLS config: %v", err)
	}
	if serverConfig == nil || len(serverConfig.Certificates) == 0 {
		t.Error("server TLS config should carry the generated server certificate")
	}

	// Test the mTLS-aware HTTP client
	client, err := tlsManager.NewHTTPClient()
	if err != nil {
		t.Errorf("Failed to build HTTP client: %v", err)
	}
	if client == nil || client.Transport == nil {
		t.Error("HTTP client should carry a configured transport when TLS is enabled")
	}
}

func TestTLSConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  TLSConfig
		wantErr bool
	}{
		{
			name: "valid config with auto-generated certs",
			config: TLSConfig{
				Enabled:          true,
				AutoGenerateCert: true,
				ServerName:       "test-server",
			},
			wantErr: false,
		},
		{
			name: "disabled TLS",
			config: TLSConfig{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "enabled TLS with custom paths",
			config: TLSConfig{
				Enabled:    true,
				CertPath:   "/path/to/cert.pem",
				KeyPath:    "/path/to/key.pem",
				CAPath:     "/path/to/ca.pem",
				ServerName: "custom-server",
			},
			wantErr: true, // Will fail because files don't exist
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			_, err := NewTLSManager(tt.config, tempDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTLSManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
