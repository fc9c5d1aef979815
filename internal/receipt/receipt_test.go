package receipt

import (
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scholarship-ledger/internal/models"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{100, "1.00"},
		{30000, "300.00"},
		{123456789, "1234567.89"},
		{-2500, "-25.00"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.minor); got != tc.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tc.minor, got, tc.want)
		}
	}
}

func TestGenerateWritesReceipt(t *testing.T) {
	svc := NewService(t.TempDir(), 0)
	app := &models.Application{
		ID:          7,
		StudentName: "Maria Santos",
		SchoolID:    "school-a",
		Amount:      30000,
	}
	payment := &models.PaymentTransaction{
		ProviderCheckoutID: "cs_receipt",
		ReferenceNumber:    "SCH-7-AAAA",
		Amount:             30000,
	}

	path, err := svc.Generate(app, payment, 30000, time.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("receipt not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("receipt file is empty")
	}
	if filepath.Ext(path) != ".xlsx" {
		t.Errorf("receipt path = %q, want .xlsx", path)
	}
}

func TestValidateUpload(t *testing.T) {
	svc := NewService(t.TempDir(), 1024)

	cases := []struct {
		name   string
		fh     *multipart.FileHeader
		wantOK bool
	}{
		{"nil header", nil, false},
		{"empty file", &multipart.FileHeader{Filename: "r.pdf", Size: 0}, false},
		{"over size cap", &multipart.FileHeader{Filename: "r.pdf", Size: 2048}, false},
		{"disallowed type", &multipart.FileHeader{Filename: "r.exe", Size: 100}, false},
		{"no extension", &multipart.FileHeader{Filename: "receipt", Size: 100}, false},
		{"pdf", &multipart.FileHeader{Filename: "r.pdf", Size: 100}, true},
		{"jpeg", &multipart.FileHeader{Filename: "r.JPEG", Size: 100}, true},
		{"png", &multipart.FileHeader{Filename: "r.png", Size: 1024}, true},
	}
	for _, tc := range cases {
		err := svc.ValidateUpload(tc.fh)
		if (err == nil) != tc.wantOK {
			t.Errorf("%s: ValidateUpload = %v, want ok=%v", tc.name, err, tc.wantOK)
		}
	}
}
