package receipt

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scholarship-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// Allowed upload types for manually attached receipts.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Service writes receipt artifacts into the configured directory and
// validates operator-uploaded receipt files.
type Service struct {
	dir            string
	maxUploadBytes int64
}

func NewService(dir string, maxUploadBytes int64) *Service {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 5 << 20
	}
	return &Service{dir: dir, maxUploadBytes: maxUploadBytes}
}

// FormatAmount renders minor units as a decimal string without ever
// touching a float.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Generate writes the xlsx receipt for a webhook-driven disbursement and
// returns its path. The artifact is built from transaction, application
// and student data; the provider sends nothing printable.
func (s *Service) Generate(app *models.Application, payment *models.PaymentTransaction, amount int64, disbursedAt time.Time) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create receipt dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Receipt"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	receiptNo := strings.ToUpper(uuid.NewString()[:8])
	rows := [][]interface{}{
		{"Scholarship Disbursement Receipt", ""},
		{"Receipt No.", receiptNo},
		{"Date", disbursedAt.Format("2006-01-02 15:04:05")},
		{"Student", app.StudentName},
		{"School", app.SchoolID},
		{"Application ID", app.ID},
		{"Checkout Session", payment.ProviderCheckoutID},
		{"Reference Number", payment.ReferenceNumber},
		{"Amount", FormatAmount(amount)},
		{"Method", "payment gateway"},
	}
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			f.SetCellValue(sheet, cell, v)
		}
	}

	name := fmt.Sprintf("receipt-app%d-%s.xlsx", app.ID, receiptNo)
	path := filepath.Join(s.dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save receipt: %w", err)
	}
	return path, nil
}

// ValidateUpload checks an operator-uploaded receipt file before it is
// accepted: present, under the size cap, and one of the allowed types.
func (s *Service) ValidateUpload(fh *multipart.FileHeader) error {
	if fh == nil {
		return fmt.Errorf("receipt file is required")
	}
	if fh.Size == 0 {
		return fmt.Errorf("receipt file is empty")
	}
	if fh.Size > s.maxUploadBytes {
		return fmt.Errorf("receipt file exceeds %d bytes", s.maxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("receipt file type %q not allowed (pdf, jpg, png)", ext)
	}
	return nil
}

// SaveUpload stores an uploaded receipt under the receipt directory with
// a collision-free name and returns the stored path.
func (s *Service) SaveUpload(fh *multipart.FileHeader, prefix string) (string, error) {
	if err := s.ValidateUpload(fh); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create receipt dir: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	name := fmt.Sprintf("%s-%s%s", prefix, uuid.NewString()[:8], ext)
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create receipt file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write receipt file: %w", err)
	}
	return path, nil
}
