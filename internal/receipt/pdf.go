package receipt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/clinicore/booking-engine/internal/booking"
)

// Store is the slice of persistence the generator needs.
type Store interface {
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetail, error)
}

// Generator renders paid-appointment receipts as PDFs on local disk, one file
// per appointment, named by appointment ID.
type Generator struct {
	store Store
	dir   string
}

func NewGenerator(store Store, dir string) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt dir: %w", err)
	}
	return &Generator{store: store, dir: dir}, nil
}

// Path returns where the receipt for an appointment lives, whether or not it
// has been generated yet.
func (g *Generator) Path(appointmentID uuid.UUID) string {
	return filepath.Join(g.dir, appointmentID.String()+".pdf")
}

// Generate renders the receipt and returns the file path. Regenerating an
// existing receipt overwrites it with identical content.
func (g *Generator) Generate(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	detail, err := g.store.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		return "", fmt.Errorf("load appointment: %w", err)
	}

	qrPNG, err := qrcode.Encode(appointmentID.String(), qrcode.Medium, 128)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	// Header
	pdf.SetFillColor(128, 128, 128)
	pdf.Rect(0, 0, 210, 30, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, "Appointment Receipt", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(0, 128, 0)
	pdf.CellFormat(0, 10, "PAID", "", 1, "R", false, 0, "")
	pdf.Ln(8)

	// Details
	pdf.SetTextColor(17, 24, 39)
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 8, fmt.Sprintf(
		"Appointment ID: %s\nPatient: %s\nDoctor: %s\nSlot: %s, %s\nBooked: %s",
		detail.ID,
		detail.Patient.Name,
		detail.Doctor.Name,
		detail.SlotDate,
		detail.SlotTime,
		detail.CreatedAt.Format("02 Jan 2006 15:04"),
	), "", "L", false)
	pdf.Ln(4)

	// Amount
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 12, fmt.Sprintf("Amount Paid: %d", detail.Amount), "1", 1, "L", false, 0, "")

	// QR code for front-desk validation
	imgOpts := gofpdf.ImageOptions{ImageType: "png"}
	pdf.RegisterImageOptionsReader("qr", imgOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 60, 40, 40, false, imgOpts, 0, "")

	// Footer
	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 9)
	pdf.SetTextColor(107, 114, 128)
	pdf.CellFormat(0, 10, fmt.Sprintf("Generated %s. For queries contact support.", time.Now().Format("02 Jan 2006")), "T", 0, "C", false, 0, "")

	path := g.Path(appointmentID)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("write receipt pdf: %w", err)
	}

	return path, nil
}
