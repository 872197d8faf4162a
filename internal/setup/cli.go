package setup

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cdss-prevention-engine/internal/config"
)

// CLI drives the interactive setup commands.
type CLI struct {
	reader *bufio.Reader
}

// NewCLI creates a setup CLI reading confirmations from stdin.
func NewCLI() *CLI {
	return &CLI{reader: bufio.NewReader(os.Stdin)}
}

// Run dispatches the setup subcommand.
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "claude-desktop":
		return c.setupClaudeDesktop(args[1:])
	case "status":
		return c.showStatus()
	case "validate":
		return c.validate()
	case "wizard":
		return c.runWizard()
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

func (c *CLI) showHelp() error {
	help := `
CDSS Prevention Engine MCP Server Setup

Usage:
  mcp-server setup <command> [options]

Commands:
  wizard          Interactive setup wizard (recommended for new users)
  claude-desktop  Configure Claude Desktop integration
  status          Show current setup status
  validate        Validate current configuration

Examples:
  # Run interactive setup wizard
  mcp-server setup wizard

  # Configure Claude Desktop with auto-detection
  mcp-server setup claude-desktop

  # Configure with specific binary path
  mcp-server setup claude-desktop --binary /path/to/mcp-server

  # Check current setup status
  mcp-server setup status
`
	fmt.Println(help)
	return nil
}

func (c *CLI) setupClaudeDesktop(args []string) error {
	var opts Options

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--binary", "-b":
			if i+1 < len(args) {
				opts.BinaryPath = args[i+1]
				i++
			}
		case "--data-dir", "-d":
			if i+1 < len(args) {
				opts.DataDir = args[i+1]
				i++
			}
		case "--auto", "-y":
			opts.AutoConfirm = true
		}
	}

	// Default to the running binary so "mcp-server setup claude-desktop"
	// registers itself.
	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	configPath, _ := ClaudeDesktopConfigPath()
	fmt.Println("Claude Desktop Configuration")
	fmt.Println("============================")
	fmt.Printf("Config file: %s\n", configPath)
	fmt.Printf("Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		fmt.Printf("Data directory: %s\n", opts.DataDir)
	}
	fmt.Println()

	if !opts.AutoConfirm && !c.confirm("Proceed with configuration? [Y/n]: ", true) {
		fmt.Println("Configuration cancelled.")
		return nil
	}

	if err := ConfigureClaudeDesktop(opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Claude Desktop configured successfully!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Restart Claude Desktop to load the new configuration")
	fmt.Println("  2. Ask Claude: \"What MCP tools do you have available?\"")
	fmt.Println("  3. Try: \"Classify an HbA1c of 6.2 for a 58-year-old female\"")
	fmt.Println()

	return nil
}

func (c *CLI) showStatus() error {
	status, err := GetStatus()
	if err != nil {
		return err
	}

	fmt.Println("CDSS Prevention Engine MCP Server Status")
	fmt.Println("========================================")
	fmt.Println()

	fmt.Println("Claude Desktop:")
	fmt.Printf("  Config path: %s\n", status.ClaudeDesktopPath)
	if status.ClaudeDesktopConfigured {
		fmt.Println("  Status: ✓ Configured")
	} else {
		fmt.Println("  Status: ✗ Not configured")
	}
	fmt.Println()

	fmt.Println("Server:")
	if status.ServerPath != "" {
		fmt.Printf("  Binary: %s\n", status.ServerPath)
		if _, err := os.Stat(status.ServerPath); err == nil {
			fmt.Println("  Status: ✓ Found")
		} else {
			fmt.Println("  Status: ✗ Binary not found")
		}
	} else {
		fmt.Println("  Status: ✗ Not configured")
	}
	fmt.Println()

	fmt.Println("Data Directory:")
	fmt.Printf("  Path: %s\n", status.DataDir)
	if _, err := os.Stat(status.DataDir); err == nil {
		fmt.Println("  Status: ✓ Exists")
		if status.PlanDBPresent {
			fmt.Println("  Plan DB: ✓ Present")
		} else {
			fmt.Println("  Plan DB: - Not created yet")
		}
	} else {
		fmt.Println("  Status: - Will be created on first run")
	}
	fmt.Println()

	if len(status.Issues) > 0 {
		fmt.Println("Issues:")
		for _, issue := range status.Issues {
			fmt.Printf("  ⚠ %s\n", issue)
		}
		fmt.Println()
	}

	return nil
}

func (c *CLI) validate() error {
	fmt.Println("Validating configuration...")
	fmt.Println()

	valid, issues := Validate()
	if valid {
		fmt.Println("✓ Configuration is valid!")
	} else {
		fmt.Println("✗ Configuration has issues:")
		for _, issue := range issues {
			fmt.Printf("  - %s\n", issue)
		}
	}

	return nil
}

func (c *CLI) runWizard() error {
	fmt.Println()
	fmt.Println("CDSS Prevention Engine - Interactive Setup Wizard")
	fmt.Println("=================================================")
	fmt.Println()

	fmt.Println("Step 1: Checking current setup...")
	status, _ := GetStatus()
	fmt.Println()

	if status.ClaudeDesktopConfigured {
		fmt.Println("✓ Claude Desktop is already configured!")
		if !c.confirm("Would you like to reconfigure? [y/N]: ", false) {
			fmt.Println()
			fmt.Println("Setup complete. Your server is ready to use!")
			return nil
		}
	}

	fmt.Println()
	fmt.Println("Step 2: Configure Claude Desktop")
	fmt.Println("---------------------------------")

	execPath, _ := os.Executable()
	binaryPath := c.prompt(fmt.Sprintf("Server binary path [%s]: ", execPath), execPath)

	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		fmt.Printf("⚠ Warning: Binary not found at %s\n", binaryPath)
		if !c.confirm("Continue anyway? [y/N]: ", false) {
			return fmt.Errorf("setup cancelled")
		}
	}

	defaultDataDir := config.DefaultLiteConfig().DataDir
	dataDir := c.prompt(fmt.Sprintf("Data directory [%s]: ", defaultDataDir), defaultDataDir)

	fmt.Println()
	fmt.Println("Step 3: Applying configuration...")

	opts := Options{
		BinaryPath: binaryPath,
		DataDir:    dataDir,
	}
	if err := ConfigureClaudeDesktop(opts); err != nil {
		return fmt.Errorf("failed to configure: %w", err)
	}

	liteCfg := config.LiteConfig{DataDir: dataDir}
	if err := liteCfg.EnsureDataDir(); err != nil {
		fmt.Printf("⚠ Warning: Could not create data directory: %v\n", err)
	}

	fmt.Println()
	fmt.Println("Setup Complete! ✓")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Restart Claude Desktop to load the new configuration")
	fmt.Println("  2. Start a new conversation with Claude")
	fmt.Println("  3. Try asking: \"Evaluate this patient for preventive care gaps\"")
	fmt.Println()
	fmt.Println("For help, run: mcp-server setup --help")
	fmt.Println()

	return nil
}

// prompt reads a line from stdin, returning fallback on empty input.
func (c *CLI) prompt(message, fallback string) string {
	fmt.Print(message)
	line, _ := c.reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}

// confirm asks a yes/no question. defaultYes controls what an empty answer
// means.
func (c *CLI) confirm(message string, defaultYes bool) bool {
	fmt.Print(message)
	line, _ := c.reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	if line == "" {
		return defaultYes
	}
	return line == "y" || line == "yes"
}
