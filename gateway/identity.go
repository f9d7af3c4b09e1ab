package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowmind/orchestrator/core"
)

// DeviceIdentity is the persistent Ed25519 credential presented during
// every gateway handshake (spec §3, §4.5, §6 "Persisted state"). It is
// created once per installation and reused across all gateway
// connections.
type DeviceIdentity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// identityFile is the on-disk JSON shape (spec §6: "JSON
// {deviceId, publicKeyBase64, privateKeyPem} under a per-user config
// directory, permissions owner-only").
type identityFile struct {
	DeviceID        string `json:"deviceId"`
	PublicKeyBase64 string `json:"publicKeyBase64"`
	PrivateKeyPem   string `json:"privateKeyPem"`
}

// LoadOrCreateDeviceIdentity reads the identity at path, creating one with
// a fresh Ed25519 key pair if it does not yet exist. Concurrent processes
// racing to create the file are tolerated: the loser simply loads what the
// winner wrote.
func LoadOrCreateDeviceIdentity(path string) (*DeviceIdentity, error) {
	if id, err := loadDeviceIdentity(path); err == nil {
		return id, nil
	} else if !os.IsNotExist(err) {
		return nil, core.NewConfigError("gateway.LoadOrCreateDeviceIdentity", fmt.Sprintf("reading device identity: %v", err))
	}

	id, err := createDeviceIdentity()
	if err != nil {
		return nil, err
	}
	if err := saveDeviceIdentity(path, id); err != nil {
		// Another process may have created it concurrently between our
		// not-exist check and our write; prefer whatever is on disk now.
		if reloaded, rerr := loadDeviceIdentity(path); rerr == nil {
			return reloaded, nil
		}
		return nil, err
	}
	return id, nil
}

func createDeviceIdentity() (*DeviceIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, core.NewConfigError("gateway.createDeviceIdentity", fmt.Sprintf("generating key pair: %v", err))
	}
	sum := sha256.Sum256(pub)
	return &DeviceIdentity{
		DeviceID:   hex.EncodeToString(sum[:]),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

func loadDeviceIdentity(path string) (*DeviceIdentity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, core.NewConfigError("gateway.loadDeviceIdentity", fmt.Sprintf("parsing device identity: %v", err))
	}

	pub, err := base64URLDecode(f.PublicKeyBase64)
	if err != nil {
		return nil, core.NewConfigError("gateway.loadDeviceIdentity", fmt.Sprintf("decoding public key: %v", err))
	}

	block, _ := pem.Decode([]byte(f.PrivateKeyPem))
	if block == nil {
		return nil, core.NewConfigError("gateway.loadDeviceIdentity", "decoding private key: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, core.NewConfigError("gateway.loadDeviceIdentity", fmt.Sprintf("parsing private key: %v", err))
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, core.NewConfigError("gateway.loadDeviceIdentity", "private key is not Ed25519")
	}

	return &DeviceIdentity{
		DeviceID:   f.DeviceID,
		PublicKey:  ed25519.PublicKey(pub),
		PrivateKey: priv,
	}, nil
}

func saveDeviceIdentity(path string, id *DeviceIdentity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return core.NewConfigError("gateway.saveDeviceIdentity", fmt.Sprintf("creating config directory: %v", err))
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return core.NewConfigError("gateway.saveDeviceIdentity", fmt.Sprintf("marshaling private key: %v", err))
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	f := identityFile{
		DeviceID:        id.DeviceID,
		PublicKeyBase64: base64URLEncode(id.PublicKey),
		PrivateKeyPem:   string(pemBytes),
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return core.NewConfigError("gateway.saveDeviceIdentity", fmt.Sprintf("encoding device identity: %v", err))
	}

	// Owner-only permissions (spec §5 "DeviceIdentity file is created with
	// owner-read-write permissions").
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(raw); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
