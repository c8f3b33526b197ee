package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectSettings mirrors the engine's project file (Pulumi.yaml).
type ProjectSettings struct {
	Name        string `yaml:"name" json:"name"`
	Runtime     string `yaml:"runtime" json:"runtime"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Main        string `yaml:"main,omitempty" json:"main,omitempty"`
}

// StackSettings mirrors the engine's per-stack file (Pulumi.<stack>.yaml).
// Config holds the raw engine-encoded entries, secrets included in their
// encrypted form; this layer never decrypts them.
type StackSettings struct {
	SecretsProvider string                 `yaml:"secretsprovider,omitempty" json:"secretsprovider,omitempty"`
	EncryptedKey    string                 `yaml:"encryptedkey,omitempty" json:"encryptedkey,omitempty"`
	EncryptionSalt  string                 `yaml:"encryptionsalt,omitempty" json:"encryptionsalt,omitempty"`
	Config          map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

const projectSettingsFile = "Pulumi.yaml"

// stackShortName strips any org/project qualification: settings files are
// named by the bare stack segment.
func stackShortName(stackName string) string {
	if i := strings.LastIndexByte(stackName, '/'); i >= 0 {
		return stackName[i+1:]
	}
	return stackName
}

func stackSettingsPath(workDir, stackName string) string {
	return filepath.Join(workDir, fmt.Sprintf("Pulumi.%s.yaml", stackShortName(stackName)))
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func saveYAML(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ProjectSettings reads the workspace's project file.
func (w *LocalWorkspace) ProjectSettings() (*ProjectSettings, error) {
	var ps ProjectSettings
	if err := loadYAML(filepath.Join(w.workDir, projectSettingsFile), &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// SaveProjectSettings writes the workspace's project file.
func (w *LocalWorkspace) SaveProjectSettings(ps *ProjectSettings) error {
	if ps == nil || strings.TrimSpace(ps.Name) == "" {
		return fmt.Errorf("project settings need a name")
	}
	return saveYAML(filepath.Join(w.workDir, projectSettingsFile), ps)
}

// StackSettings reads the named stack's settings file, caching the result so
// PostCommandCallback can re-persist it after operations.
func (w *LocalWorkspace) StackSettings(stackName string) (*StackSettings, error) {
	var ss StackSettings
	if err := loadYAML(stackSettingsPath(w.workDir, stackName), &ss); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.stackSettings[stackShortName(stackName)] = &ss
	w.mu.Unlock()
	return &ss, nil
}

// SaveStackSettings writes the named stack's settings file and caches it.
func (w *LocalWorkspace) SaveStackSettings(stackName string, ss *StackSettings) error {
	if ss == nil {
		return fmt.Errorf("stack settings must not be nil")
	}
	if err := saveYAML(stackSettingsPath(w.workDir, stackName), ss); err != nil {
		return err
	}
	w.mu.Lock()
	w.stackSettings[stackShortName(stackName)] = ss
	w.mu.Unlock()
	return nil
}
