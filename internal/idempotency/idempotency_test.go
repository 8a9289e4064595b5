package idempotency

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := NewKey()
		if _, err := uuid.Parse(k); err != nil {
			t.Fatalf("NewKey() = %q is not a UUID: %v", k, err)
		}
		if seen[k] {
			t.Fatalf("NewKey() repeated %q", k)
		}
		seen[k] = true
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{
			name:   "absent",
			header: "",
			want:   "",
		},
		{
			name:   "sf-string",
			header: `"8e03978e-40d5-43e8-bc93-6894a57f9324"`,
			want:   "8e03978e-40d5-43e8-bc93-6894a57f9324",
		},
		{
			name:   "surrounding whitespace",
			header: `  "abc"  `,
			want:   "abc",
		},
		{
			name:   "parameters ignored",
			header: `"abc";scope=cart`,
			want:   "abc",
		},
		{
			name:    "bare token is not a string",
			header:  `abc`,
			wantErr: true,
		},
		{
			name:    "integer",
			header:  `42`,
			wantErr: true,
		},
		{
			name:    "unterminated string",
			header:  `"abc`,
			wantErr: true,
		},
		{
			name:    "empty string",
			header:  `""`,
			wantErr: true,
		},
		{
			name:    "too long",
			header:  `"` + strings.Repeat("a", MaxLength+1) + `"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseHeader(%q) = %q, want error", tt.header, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHeader(%q) error: %v", tt.header, err)
			}
			if got != tt.want {
				t.Errorf("ParseHeader(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestFormatHeader(t *testing.T) {
	header, err := FormatHeader("8e03978e-40d5-43e8-bc93-6894a57f9324")
	if err != nil {
		t.Fatalf("FormatHeader() error: %v", err)
	}
	if header != `"8e03978e-40d5-43e8-bc93-6894a57f9324"` {
		t.Errorf("FormatHeader() = %s", header)
	}

	key, err := ParseHeader(header)
	if err != nil || key != "8e03978e-40d5-43e8-bc93-6894a57f9324" {
		t.Errorf("ParseHeader(FormatHeader()) = %q, %v", key, err)
	}

	if _, err := FormatHeader(""); err == nil {
		t.Error("FormatHeader(empty) should fail")
	}
	if _, err := FormatHeader("café"); err == nil {
		t.Error("FormatHeader(non-ASCII) should fail")
	}
}
