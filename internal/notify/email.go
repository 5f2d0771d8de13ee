package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultSubjectPrefix = "[Agent Orchestrator]"

// DefaultEmailConfigRelativePath is where an email notification config is
// looked up relative to the repo root, unless overridden.
const DefaultEmailConfigRelativePath = "config/email_notifications.yaml"

// SMTPSettings configures the outbound mail transport.
type SMTPSettings struct {
	Host     string  `yaml:"host"`
	Port     int     `yaml:"port"`
	Username string  `yaml:"username"`
	Password string  `yaml:"password"`
	UseTLS   bool    `yaml:"use_tls"`
	Timeout  float64 `yaml:"timeout"`
}

// EmailConfig is the on-disk shape of the email notification configuration.
type EmailConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Sender        string        `yaml:"sender"`
	Recipients    []string      `yaml:"recipients"`
	SMTP          *SMTPSettings `yaml:"smtp"`
	SubjectPrefix string        `yaml:"subject_prefix"`
}

// RequireTransport validates that an enabled config carries everything
// needed to actually send mail.
func (c *EmailConfig) RequireTransport() error {
	if !c.Enabled {
		return nil
	}
	if c.Sender == "" {
		return fmt.Errorf("email notifications enabled but 'sender' is missing")
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("email notifications enabled but 'recipients' list is empty")
	}
	if c.SMTP == nil {
		return fmt.Errorf("email notifications enabled but SMTP settings are missing")
	}
	return nil
}

// LoadEmailConfig reads the email notification configuration from
// configPath, or repoDir/DefaultEmailConfigRelativePath when configPath is
// empty. A missing file yields a disabled config rather than an error.
func LoadEmailConfig(repoDir, configPath string) (*EmailConfig, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(repoDir, DefaultEmailConfigRelativePath)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &EmailConfig{Enabled: false}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading email notification config: %w", err)
	}

	var cfg EmailConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing email notification config: %w", err)
	}

	if cfg.SMTP != nil && cfg.SMTP.Host == "" {
		return nil, fmt.Errorf("SMTP configuration missing 'host'")
	}
	if cfg.SMTP != nil && cfg.SMTP.Port == 0 {
		return nil, fmt.Errorf("SMTP configuration missing 'port'")
	}

	cfg.Sender = strings.TrimSpace(cfg.Sender)
	for i, r := range cfg.Recipients {
		cfg.Recipients[i] = strings.TrimSpace(r)
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}

	if err := cfg.RequireTransport(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EmailService sends notifications via SMTP.
type EmailService struct {
	config  *EmailConfig
	logger  *slog.Logger
	active  bool
	context RunContext
	sendFn  func(settings *SMTPSettings, from string, to []string, msg []byte) error
}

// NewEmailService builds an EmailService. A nil logger falls back to
// slog.Default().
func NewEmailService(config *EmailConfig, logger *slog.Logger) *EmailService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailService{config: config, logger: logger, sendFn: sendMail}
}

func (s *EmailService) Start(ctx RunContext) {
	s.context = ctx
	if !s.config.Enabled {
		s.logger.Info("email notifications disabled", "run_id", ctx.RunID)
		return
	}
	s.active = true
	s.logger.Info("email notifications enabled", "run_id", ctx.RunID, "recipients", strings.Join(s.config.Recipients, ","))
}

func (s *EmailService) Stop() {
	s.active = false
}

func (s *EmailService) NotifyFailure(n StepNotification) {
	if !s.shouldSend() {
		return
	}
	subject := fmt.Sprintf("%s Step failed: %s", s.config.SubjectPrefix, n.StepID)
	s.send(subject, buildFailureBody(n))
}

func (s *EmailService) NotifyHumanInput(n StepNotification) {
	if !s.shouldSend() {
		return
	}
	subject := fmt.Sprintf("%s Step paused for input: %s", s.config.SubjectPrefix, n.StepID)
	s.send(subject, buildHumanInputBody(n))
}

func (s *EmailService) shouldSend() bool {
	return s.active && s.config.Enabled && s.config.SMTP != nil && len(s.config.Recipients) > 0
}

func (s *EmailService) send(subject, body string) {
	msg := buildMessage(s.config.Sender, s.config.Recipients, subject, body)
	if err := s.sendFn(s.config.SMTP, s.config.Sender, s.config.Recipients, msg); err != nil {
		s.logger.Error("failed to send notification email", "error", err)
	}
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func sendMail(settings *SMTPSettings, from string, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	var auth smtp.Auth
	if settings.Username != "" && settings.Password != "" {
		auth = smtp.PlainAuth("", settings.Username, settings.Password, settings.Host)
	}
	return smtp.SendMail(addr, auth, from, to, msg)
}

func buildFailureBody(n StepNotification) string {
	lines := []string{
		fmt.Sprintf("Workflow: %s", n.WorkflowName),
		fmt.Sprintf("Run ID: %s", n.RunID),
		fmt.Sprintf("Step: %s", n.StepID),
		fmt.Sprintf("Attempt: %d", n.Attempt),
		fmt.Sprintf("Status: %s", n.Status),
	}
	if n.LastError != "" {
		lines = append(lines, "", "Error Summary:", n.LastError)
	}
	if len(n.Logs) > 0 {
		lines = append(lines, "", "Recent Logs:")
		lines = append(lines, truncateLogs(n.Logs, 10)...)
	}
	if n.ReportPath != "" {
		lines = append(lines, "", fmt.Sprintf("Run report: %s", n.ReportPath))
	}
	return strings.Join(lines, "\n")
}

func buildHumanInputBody(n StepNotification) string {
	lines := []string{
		fmt.Sprintf("Workflow: %s", n.WorkflowName),
		fmt.Sprintf("Run ID: %s", n.RunID),
		fmt.Sprintf("Step: %s", n.StepID),
		fmt.Sprintf("Attempt: %d", n.Attempt),
		"",
		"The workflow is waiting for manual input to proceed.",
	}
	if n.ManualInputPath != "" {
		lines = append(lines, fmt.Sprintf("Provide input at: %s", n.ManualInputPath))
	}
	if n.ReportPath != "" {
		lines = append(lines, fmt.Sprintf("Latest run report: %s", n.ReportPath))
	}
	if len(n.Logs) > 0 {
		lines = append(lines, "", "Recent Logs:")
		lines = append(lines, truncateLogs(n.Logs, 10)...)
	}
	return strings.Join(lines, "\n")
}

func truncateLogs(logs []string, max int) []string {
	if len(logs) <= max {
		return logs
	}
	return logs[:max]
}
