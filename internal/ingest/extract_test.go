package ingest

import "testing"

func TestSplitName(t *testing.T) {
	tests := []struct {
		in        string
		wantFirst string
		wantLast  string
	}{
		{"Maria Fernanda Lopez", "Maria", "Fernanda Lopez"},
		{"Carlos", "Carlos", ""},
		{"  Ana   de la   Cruz ", "Ana", "de la Cruz"},
		{"", "", ""},
		{"   ", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			first, last := SplitName(tt.in)
			if first != tt.wantFirst || last != tt.wantLast {
				t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", tt.in, first, last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Address
	}{
		{
			name: "four segments",
			in:   "123 Main St, Springfield, IL, 62704",
			want: Address{Street: "123 Main St", City: "Springfield", State: "IL", Zip: "62704"},
		},
		{
			name: "missing zip",
			in:   "Calle 10 #5-20, Cienaga, Magdalena",
			want: Address{Street: "Calle 10 #5-20", City: "Cienaga", State: "Magdalena"},
		},
		{
			name: "street only",
			in:   "Carrera 7",
			want: Address{Street: "Carrera 7"},
		},
		{
			name: "no commas keeps everything in street",
			in:   "123 Main St Springfield IL 62704",
			want: Address{Street: "123 Main St Springfield IL 62704"},
		},
		{
			name: "extra segments ignored",
			in:   "a, b, c, d, e",
			want: Address{Street: "a", City: "b", State: "c", Zip: "d"},
		},
		{
			name: "empty segments",
			in:   ", Bogota,,",
			want: Address{City: "Bogota"},
		},
		{name: "empty", in: "", want: Address{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitAddress(tt.in); got != tt.want {
				t.Errorf("SplitAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitPhone(t *testing.T) {
	tests := []struct {
		in        string
		wantPhone string
		wantExt   *string
	}{
		{"555-1234 x402", "555-1234", ptr("402")},
		{"555-1234", "555-1234", nil},
		{"(312) 555-0199X12", "(312) 555-0199X12", nil},
		{"555-1234 x", "555-1234", ptr("")},
		{"555-1234 x12 x34", "555-1234", ptr("12")},
		{" 555-1234 ", "555-1234", nil},
		{"", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			phone, ext := SplitPhone(tt.in)
			if phone != tt.wantPhone {
				t.Errorf("phone = %q, want %q", phone, tt.wantPhone)
			}
			switch {
			case tt.wantExt == nil && ext != nil:
				t.Errorf("ext = %q, want nil", *ext)
			case tt.wantExt != nil && ext == nil:
				t.Errorf("ext = nil, want %q", *tt.wantExt)
			case tt.wantExt != nil && *ext != *tt.wantExt:
				t.Errorf("ext = %q, want %q", *ext, *tt.wantExt)
			}
		})
	}
}

func ptr(s string) *string { return &s }
