package config

import (
	"os"
	"strings"
)

// SMTPSettings is read from SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASSWORD and SMTP_FROM.
type SMTPSettings struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

func (s SMTPSettings) Enabled() bool {
	return s.Host != "" && s.From != ""
}

func (s SMTPSettings) Addr() string {
	return s.Host + ":" + s.Port
}

func GetSMTPSettings() SMTPSettings {
	port := strings.TrimSpace(os.Getenv("SMTP_PORT"))
	if port == "" {
		port = "587"
	}
	return SMTPSettings{
		Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		Port:     port,
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
	}
}

// BackupNotifyEmails lists BACKUP_NOTIFY_EMAILS recipients.
func BackupNotifyEmails() []string {
	return SplitList("BACKUP_NOTIFY_EMAILS")
}
