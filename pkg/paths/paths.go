// Package paths resolves the on-disk layout rooted at KIN_HOME and the
// per-project "unlock" gate (spec §6.4: a trusted-folders registry so a
// project-local tool/config directory is only honored after an explicit
// one-time confirmation). Grounded on the teacher's expandHome helper in
// pkg/agent/instance.go, generalized into a small path-resolution type.
package paths

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ExpandHome rewrites a leading "~" to the current user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[1:])
	}
	return home
}

// Paths resolves every file the core reads or writes, rooted at KIN_HOME
// (default ~/.kin-code).
type Paths struct {
	Home string
}

func New(kinHome string) *Paths {
	if kinHome == "" {
		kinHome = "~/.kin-code"
	}
	return &Paths{Home: ExpandHome(kinHome)}
}

func (p *Paths) ConfigFile() string      { return filepath.Join(p.Home, "config.toml") }
func (p *Paths) EnvFile() string         { return filepath.Join(p.Home, ".env") }
func (p *Paths) UserToolsDir() string    { return filepath.Join(p.Home, "tools") }
func (p *Paths) SessionsDir() string     { return filepath.Join(p.Home, "sessions") }
func (p *Paths) TrustedFoldersFile() string { return filepath.Join(p.Home, "trusted_folders.json") }

// ProjectLocalToolsDir is the trusted-project-local tools directory,
// relative to the given project root, never KIN_HOME.
func ProjectLocalToolsDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".kin", "tools")
}

// EnsureLayout creates KIN_HOME and its subdirectories if missing.
func (p *Paths) EnsureLayout() error {
	for _, dir := range []string{p.Home, p.UserToolsDir(), p.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// TrustedFolders is the one-shot "unlock" gate: a project directory's
// local tools/config are only loaded after the user has confirmed it here
// at least once.
type TrustedFolders struct {
	path    string
	trusted map[string]bool
}

func LoadTrustedFolders(p *Paths) (*TrustedFolders, error) {
	tf := &TrustedFolders{path: p.TrustedFoldersFile(), trusted: map[string]bool{}}
	data, err := os.ReadFile(tf.path)
	if os.IsNotExist(err) {
		return tf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &tf.trusted); err != nil {
		return nil, err
	}
	return tf, nil
}

func (tf *TrustedFolders) IsTrusted(projectRoot string) bool {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	return tf.trusted[abs]
}

// Trust records a one-time confirmation for projectRoot and persists it.
func (tf *TrustedFolders) Trust(projectRoot string) error {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	tf.trusted[abs] = true
	data, err := json.MarshalIndent(tf.trusted, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tf.path, data, 0o600)
}
