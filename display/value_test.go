package display

import "testing"

func TestDecodeVersion(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"four bytes dotted", []byte{1, 2, 3, 4}, "1.2.3.4"},
		{"longer than four keeps first four", []byte{1, 2, 3, 4, 9, 9}, "1.2.3.4"},
		{"two byte firmware quirk", []byte{0x02, 0x72}, "0.0.2.2"},
		{"two byte with FF padding", []byte{0x05, 0xFF}, "5.0"},
		{"two byte plain", []byte{0x01, 0x07}, "1.07"},
		{"one byte falls back to hex", []byte{0xAB}, "0xAB"},
		{"empty falls back to hex", nil, "0x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeVersion(tt.data); got != tt.want {
				t.Errorf("decodeVersion(% X) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecodeSerialNumber(t *testing.T) {
	data := []byte{0x37, 0xFF, 0xD7, 0x05, 0x56, 0x4E, 0x31, 0x30, 0x46, 0x44, 0x20, 0x00}
	want := "0x37FFD705564E313046442000"
	if got := decodeSerialNumber(data); got != want {
		t.Errorf("decodeSerialNumber = %q, want %q", got, want)
	}

	t.Run("caps at 20 bytes", func(t *testing.T) {
		long := make([]byte, 40)
		got := decodeSerialNumber(long)
		// "0x" + 20 bytes * 2 hex chars
		if len(got) != 2+maxSerialBytes*2 {
			t.Errorf("serial length = %d chars, want %d", len(got), 2+maxSerialBytes*2)
		}
	})
}

func TestDecodeASCII(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"plain text", []byte("BUI255"), "BUI255"},
		{"nul padding stripped", append([]byte("BUI255"), 0x00, 0x00), "BUI255"},
		{"leading marker stripped", append([]byte{0x2A}, []byte("CX40")...), "CX40"},
		{"non-printable dropped", []byte{0x01, 'A', 0x7F, 'B'}, "AB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeASCII(tt.data); got != tt.want {
				t.Errorf("decodeASCII(% X) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecodeArticleNumber(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"digits pass through", []byte("1270020906"), "1270020906"},
		{"nul bytes removed", []byte{'1', 0x00, '2', '7', 0x00}, "127"},
		{"leading marker stripped", []byte{'*', '1', '2', '7'}, "127"},
		{"trailing junk trimmed", []byte("127\xff "), "127"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeArticleNumber(tt.data); got != tt.want {
				t.Errorf("decodeArticleNumber(% X) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecodeTime(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"hour first", []byte{14, 30}, "14:30"},
		{"swapped order detected", []byte{30, 14}, "14:30"},
		{"midnight", []byte{0, 0}, "00:00"},
		{"valid either way stays unswapped", []byte{10, 20}, "10:20"},
		{"short input falls back to hex", []byte{14}, "0x0E"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeTime(tt.data); got != tt.want {
				t.Errorf("decodeTime(% X) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecodeDate(t *testing.T) {
	if got := decodeDate([]byte{24, 6, 15}); got != "15.06.2024" {
		t.Errorf("decodeDate = %q, want 15.06.2024", got)
	}
	if got := decodeDate([]byte{24, 6}); got != "0x1806" {
		t.Errorf("short date = %q, want hex fallback", got)
	}
}

func TestDecodeComponentType(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0x01}, "Intuvia"},
		{[]byte{0x02}, "Purion"},
		{[]byte{0x03}, "Nyon"},
		{[]byte{0x04}, "Kiox"},
		{[]byte{0x05}, "SmartphoneHub"},
		{[]byte{0x77}, "Unknown(0x77)"},
	}
	for _, tt := range tests {
		if got := decodeComponentType(tt.data); got != tt.want {
			t.Errorf("decodeComponentType(% X) = %q, want %q", tt.data, got, tt.want)
		}
	}
	if got := decodeComponentType(nil); got != "0x" {
		t.Errorf("empty input = %q, want hex fallback", got)
	}
}
