package utils

import (
	"fmt"
	"log"

	"gopkg.in/gomail.v2"

	"github.com/memberly/memberly_backend/config"
	"github.com/memberly/memberly_backend/models"
)

// SendPayoutReminderEmail emails an admin-facing reminder for a manual
// payout schedule that has its reminder flag set. Delivery failures are
// reported to the caller; nothing here touches payout state.
func SendPayoutReminderEmail(cfg config.Config, toEmail string, schedule *models.ManualPayoutSchedule) error {
	if cfg.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is not configured")
	}

	subject := "Manual payout due"
	body := fmt.Sprintf(
		"A manual payout of %s %s for affiliate %s is due on %s.\n\nSchedule: %s\nNote: %s\n",
		FormatCents(schedule.AmountCents),
		schedule.Currency,
		schedule.ReferrerID.Hex(),
		schedule.NextRunAt.Format("2006-01-02"),
		schedule.Schedule,
		schedule.Note,
	)

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.EmailFrom)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		log.Printf("Failed to send payout reminder for schedule %s: %v", schedule.ID.Hex(), err)
		return fmt.Errorf("failed to send payout reminder: %w", err)
	}
	return nil
}
