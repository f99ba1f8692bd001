package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	ChatModel   string
	LogFile     string
	// WithPrompts also writes an editable copy of the built-in prompts.
	WithPrompts bool
	Prompts     []byte
	Force       bool
}

// Init scaffolds configuration files for walletchat.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "walletchat.ini")
	if err := writeFile(envPath, walletchatTemplate(opts), opts.Force); err != nil {
		return err
	}

	if opts.WithPrompts {
		promptsPath := filepath.Join(opts.Root, "config", "prompts.yaml")
		if err := writeFile(promptsPath, string(opts.Prompts), opts.Force); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8080"
	}
	if strings.TrimSpace(opts.ChatModel) == "" {
		opts.ChatModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(opts.LogFile) == "" {
		opts.LogFile = "logs/walletchatd.log"
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# walletchat settings
environment=%s
log_level=info
`, opts.Environment)
}

func walletchatTemplate(opts InitOptions) string {
	prompts := "# prompts_file=config/prompts.yaml"
	if opts.WithPrompts {
		prompts = "prompts_file=config/prompts.yaml"
	}
	return fmt.Sprintf(`# Environment specific overrides for %s
http_address=%s
# Dash '-' disables file output.
log_file=%s

# Provider keys may also come from OPENAI_API_KEY / GEMINI_API_KEY / ANTHROPIC_API_KEY.
# With no key configured the loopback adapter echoes messages back.
# openai_api_key=
# gemini_api_key=
# anthropic_api_key=

chat_model=%s
# suggestion_model=
# action_model=
# routes=gpt-*=>openai,gemini-*=>gemini,claude-*=>anthropic

%s
prompts_watch=false

sse_ping_interval=15s
shutdown_timeout=10s
force_exit_timeout=15s

rate_limit_enabled=false
rate_limit_store=memory
# redis_addr=localhost:6379
# Forwarded client addresses are only trusted from these peers (IPs or CIDRs).
# trusted_proxies=127.0.0.1,10.0.0.0/8

# Private keys and seed phrases in user messages: monitor, redact, enforce or disabled.
firewall_mode=redact

# cors_allowed_origins=http://localhost:3000
`, opts.Environment, opts.HTTPAddress, opts.LogFile, opts.ChatModel, prompts)
}

// Validate ensures the options are usable without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if strings.ContainsAny(opts.Environment, `/\`) || opts.Environment == "." || opts.Environment == ".." {
		return fmt.Errorf("environment %q must be a plain name", opts.Environment)
	}
	if _, _, err := net.SplitHostPort(opts.HTTPAddress); err != nil {
		return fmt.Errorf("http address %q: %w", opts.HTTPAddress, err)
	}
	if opts.WithPrompts && len(opts.Prompts) == 0 {
		return errors.New("prompts content is required")
	}
	return nil
}
