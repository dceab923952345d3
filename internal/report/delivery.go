package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"health-assistant/internal/consultation"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName string) error
}

// Deliverer sends finished reports to the doctor's Telegram chat.
type Deliverer struct {
	tgClient     TelegramClient
	doctorChatID int64
	logger       zerolog.Logger
}

func NewDeliverer(tg TelegramClient, doctorChatID int64, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		logger:       logger.With().Str("component", "report.delivery").Logger(),
	}
}

// Deliver posts a short summary followed by the PDF itself.
func (d *Deliverer) Deliver(ctx context.Context, p consultation.Patient, rec consultation.Record, pdfPath string) error {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	if err := d.tgClient.SendMessage(ctx, d.doctorChatID, Summary(p, rec)); err != nil {
		return err
	}
	if err := d.tgClient.SendDocument(ctx, d.doctorChatID, data, filepath.Base(pdfPath)); err != nil {
		return err
	}
	d.logger.Info().Int64("chat_id", d.doctorChatID).Str("pdf", pdfPath).Msg("report delivered")
	return nil
}

// Summary is the plain-text digest sent ahead of the document.
func Summary(p consultation.Patient, rec consultation.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New consultation: %s, %d", p.Name, p.Age)
	if p.Gender != "" {
		fmt.Fprintf(&b, ", %s", p.Gender)
	}
	b.WriteString("\n")
	if p.Symptoms != "" {
		fmt.Fprintf(&b, "Symptoms: %s\n", p.Symptoms)
	}
	for _, f := range rec.Fields() {
		if f[1] != "" {
			fmt.Fprintf(&b, "%s: %s\n", f[0], f[1])
		}
	}
	fmt.Fprintf(&b, "Source: %s", rec.Source)
	return b.String()
}
