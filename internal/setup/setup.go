// Package setup registers the MCP server with Claude Desktop and reports on
// the health of an existing installation.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cdss-prevention-engine/internal/config"
)

// serverName is the key under which the engine appears in the Claude Desktop
// mcpServers map.
const serverName = "cdss-prevention-engine"

// ClaudeDesktopConfig mirrors the Claude Desktop configuration file structure.
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig is a single MCP server entry in the Claude Desktop config.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options control how the engine is registered.
type Options struct {
	BinaryPath  string // Path to the mcp-server binary
	DataDir     string // Data directory for the SQLite plan store
	AutoConfirm bool   // Skip confirmation prompts
}

// ClaudeDesktopConfigPath returns the platform-specific path of Claude
// Desktop's configuration file.
func ClaudeDesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClaudeDesktopConfig reads the Claude Desktop configuration, returning
// an empty config when the file does not exist yet.
func LoadClaudeDesktopConfig(configPath string) (*ClaudeDesktopConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClaudeDesktopConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClaudeDesktopConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}
	return &cfg, nil
}

// SaveClaudeDesktopConfig writes the configuration back to disk, creating the
// config directory if necessary.
func SaveClaudeDesktopConfig(configPath string, cfg *ClaudeDesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigureClaudeDesktop adds or updates the engine's entry in the Claude
// Desktop configuration.
func ConfigureClaudeDesktop(opts Options) error {
	configPath, err := ClaudeDesktopConfigPath()
	if err != nil {
		return err
	}

	cfg, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = findBinary()
		if err != nil {
			return fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		entry.Env["CDSS_DATA_DIR"] = opts.DataDir
	}

	cfg.MCPServers[serverName] = entry
	return SaveClaudeDesktopConfig(configPath, cfg)
}

// findBinary looks for the mcp-server binary on PATH and in common install
// locations.
func findBinary() (string, error) {
	const binaryName = "mcp-server"

	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary %q not found in common locations", binaryName)
}

// Status describes the current state of a Claude Desktop installation.
type Status struct {
	ClaudeDesktopConfigured bool
	ClaudeDesktopPath       string
	ServerPath              string
	DataDir                 string
	PlanDBPresent           bool
	Issues                  []string
}

// GetStatus inspects the Claude Desktop configuration and the data directory
// and collects anything that looks wrong.
func GetStatus() (*Status, error) {
	status := &Status{Issues: []string{}}

	configPath, err := ClaudeDesktopConfigPath()
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Could not determine Claude Desktop config path: %v", err))
	} else {
		status.ClaudeDesktopPath = configPath

		cfg, err := LoadClaudeDesktopConfig(configPath)
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not load Claude Desktop config: %v", err))
		} else if entry, ok := cfg.MCPServers[serverName]; ok {
			status.ClaudeDesktopConfigured = true
			status.ServerPath = entry.Command

			if _, err := os.Stat(entry.Command); os.IsNotExist(err) {
				status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", entry.Command))
			}
			status.DataDir = entry.Env["CDSS_DATA_DIR"]
		}
	}

	if status.DataDir == "" {
		status.DataDir = config.DefaultLiteConfig().DataDir
	}

	if _, err := os.Stat(status.DataDir); os.IsNotExist(err) {
		status.Issues = append(status.Issues, fmt.Sprintf("Data directory will be created on first run: %s", status.DataDir))
	} else {
		liteCfg := config.LiteConfig{DataDir: status.DataDir}
		if _, err := os.Stat(liteCfg.PlanDBPath()); err == nil {
			status.PlanDBPresent = true
		}
	}

	return status, nil
}

// Validate reports whether the installation is usable. Issues that resolve
// themselves on first run count as warnings, not failures.
func Validate() (bool, []string) {
	status, err := GetStatus()
	if err != nil {
		return false, []string{err.Error()}
	}
	if !status.ClaudeDesktopConfigured {
		return false, append(status.Issues, "prevention engine not configured in Claude Desktop")
	}
	return allWarnings(status.Issues), status.Issues
}

func allWarnings(issues []string) bool {
	for _, issue := range issues {
		if !strings.Contains(issue, "will be created") {
			return false
		}
	}
	return true
}
