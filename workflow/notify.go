package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/wneessen/go-mail"
)

const smtpTimeout = 30 * time.Second

// Mailer sends plain text mail. Tests replace it.
type Mailer interface {
	Send(to []string, subject string, body string) error
}

type smtpMailer struct {
	settings config.SMTPSettings
}

func (m smtpMailer) Send(to []string, subject string, body string) error {
	msg, err := newMessage(m.settings.From, to, subject, body)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(m.settings.Port)
	if err != nil {
		return fmt.Errorf("invalid SMTP_PORT %q: %w", m.settings.Port, err)
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if m.settings.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.settings.User),
			mail.WithPassword(m.settings.Password))
	}
	client, err := mail.NewClient(m.settings.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSend(msg)
}

// newMessage builds a dated text/plain message with its own Message-ID.
func newMessage(from string, to []string, subject string, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid SMTP_FROM: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, err
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

var mailer Mailer

// UseMailer overrides the SMTP mailer; nil restores it.
func UseMailer(m Mailer) {
	mailer = m
}

func currentMailer() Mailer {
	if mailer != nil {
		return mailer
	}
	settings := config.GetSMTPSettings()
	if !settings.Enabled() {
		return nil
	}
	return smtpMailer{settings: settings}
}

func backupMessage(record *models.BackupRecord) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Factory: %s\n", record.FactoryId)
	fmt.Fprintf(&b, "Backup: %s (#%d)\n", record.FileName, record.ID)
	fmt.Fprintf(&b, "Trigger: %s\n", record.Trigger)
	fmt.Fprintf(&b, "Status: %s\n", record.Status)
	if record.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s\n", record.CompletedAt.UTC().Format(time.RFC3339))
	}
	if record.Status == models.BackupStatusCompleted {
		fmt.Fprintf(&b, "Records: %d\nSize: %d bytes\nSHA-256: %s\n", record.RecordCount, record.SizeBytes, record.Checksum)
		return "Backup completed: " + record.FileName, b.String()
	}
	fmt.Fprintf(&b, "Error: %s\n", record.ErrorMessage)
	return "Backup FAILED: " + record.FileName, b.String()
}

// NotifyBackup mails the outcome of a backup; delivery problems are only logged.
func NotifyBackup(record *models.BackupRecord) {
	to := config.BackupNotifyEmails()
	m := currentMailer()
	if len(to) == 0 || m == nil {
		return
	}
	subject, body := backupMessage(record)
	if err := m.Send(to, subject, body); err != nil {
		config.LogError(config.GetLogger(), "workflow", "NotifyBackup", "sending backup mail", record.ID, err)
	}
}
