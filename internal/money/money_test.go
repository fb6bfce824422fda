package money

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{8000, "80.00"},
		{2000, "20.00"},
		{12345, "123.45"},
		{-8000, "-80.00"},
		{-1, "-0.01"},
	}

	for _, tt := range tests {
		if got := Format(tt.cents); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"80.00", 8000, false},
		{"80", 8000, false},
		{"0.5", 50, false},
		{"0", 0, false},
		{"123.45", 12345, false},
		{"-10.00", -1000, false},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %d", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 8000, 1234567} {
		got, err := Parse(Format(cents))
		if err != nil {
			t.Fatalf("Parse(Format(%d)): %v", cents, err)
		}
		if got != cents {
			t.Fatalf("round trip %d -> %d", cents, got)
		}
	}
}
