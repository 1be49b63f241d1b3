package filter

import (
	"testing"
)

func TestFilter_Allows_PDFDefault(t *testing.T) {
	f, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{name: "lower case", filename: "a.pdf", want: true},
		{name: "upper case", filename: "INVOICE.PDF", want: true},
		{name: "mixed case", filename: "scan.Pdf", want: true},
		{name: "text file", filename: "b.txt", want: false},
		{name: "pdf in middle", filename: "report.pdf.zip", want: false},
		{name: "no extension", filename: "pdf", want: false},
		{name: "empty", filename: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Allows(tt.filename); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestFilter_ExcludeName(t *testing.T) {
	f, err := New(Options{ExcludeName: []string{"(?i)^terms", "  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if f.Allows("Terms-and-conditions.pdf") {
		t.Error("Expected terms PDF to be filtered out")
	}
	if !f.Allows("invoice-2024-01.pdf") {
		t.Error("Expected invoice PDF to be allowed")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{ExcludeName: []string{"("}}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestFilter_Extensions(t *testing.T) {
	f, err := New(Options{Extensions: []string{"PDF", " "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !f.Allows("x.pdf") {
		t.Error("Expected normalised extension to match")
	}
}
