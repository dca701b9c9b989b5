package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileCredential is the on-disk shape of one credential entry. One file
// holds the credentials for exactly one backend; the file's base name
// (without extension) names the backend.
type fileCredential struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Value        string `json:"value,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC3339, oauth only
	CertPath     string `json:"cert_path,omitempty"`
	KeyPath      string `json:"key_path,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// LoadDir reads every *.json file in dir and loads its credentials into m,
// returning the names of backends it loaded. A malformed individual file
// is skipped with its error collected rather than aborting the whole scan,
// so one operator typo doesn't take down every other backend's keys.
func (m *Manager) LoadDir(dir string) (loaded []string, errs []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("credential: read dir %s: %w", dir, err)}
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := m.LoadFile(path); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, backendNameFromPath(path))
	}
	return loaded, errs
}

// LoadFile parses one backend's credential file and loads each entry into
// m. The backend name is derived from the file's base name.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("credential: read %s: %w", path, err)
	}

	var entries []fileCredential
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("credential: parse %s: %w", path, err)
	}

	backend := backendNameFromPath(path)
	for _, fc := range entries {
		cred := Credential{
			Name:         fc.Name,
			Backend:      backend,
			Kind:         fc.Kind,
			Value:        fc.Value,
			RefreshToken: fc.RefreshToken,
			CertPath:     fc.CertPath,
			KeyPath:      fc.KeyPath,
			TokenURL:     fc.TokenURL,
			ClientID:     fc.ClientID,
			ClientSecret: fc.ClientSecret,
			SourcePath:   path,
		}
		if fc.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, fc.ExpiresAt)
			if err != nil {
				return fmt.Errorf("credential: %s: invalid expires_at %q: %w", fc.Name, fc.ExpiresAt, err)
			}
			cred.ExpiresAt = t
		}
		if err := m.Load(cred); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile removes every credential previously loaded from path.
func (m *Manager) RemoveFile(path string) {
	backend := backendNameFromPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.entries[backend] {
		e.mu.Lock()
		source := e.cred.SourcePath
		e.mu.Unlock()
		if source == path {
			delete(m.entries[backend], name)
		}
	}
}

func backendNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RereadCredential re-parses cred.SourcePath and returns cred with its
// refreshable fields (Value, RefreshToken, ExpiresAt, OAuth endpoint)
// updated to whatever is currently on disk for an entry named cred.Name. It
// never touches a Manager or its breakers — Manager.recheckExpiry applies
// the result itself, preserving the existing breaker and health history.
func RereadCredential(cred Credential) (Credential, error) {
	if cred.SourcePath == "" {
		return cred, fmt.Errorf("credential %q: no source path to reload from", cred.Name)
	}

	data, err := os.ReadFile(cred.SourcePath)
	if err != nil {
		return cred, fmt.Errorf("credential: reread %s: %w", cred.SourcePath, err)
	}

	var entries []fileCredential
	if err := json.Unmarshal(data, &entries); err != nil {
		return cred, fmt.Errorf("credential: parse %s: %w", cred.SourcePath, err)
	}

	for _, fc := range entries {
		if fc.Name != cred.Name {
			continue
		}
		cred.Value = fc.Value
		cred.RefreshToken = fc.RefreshToken
		cred.TokenURL = fc.TokenURL
		cred.ClientID = fc.ClientID
		cred.ClientSecret = fc.ClientSecret
		if fc.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, fc.ExpiresAt)
			if err != nil {
				return cred, fmt.Errorf("credential: %s: invalid expires_at %q: %w", fc.Name, fc.ExpiresAt, err)
			}
			cred.ExpiresAt = t
		}
		return cred, nil
	}
	return cred, fmt.Errorf("credential %q: no longer present in %s", cred.Name, cred.SourcePath)
}
