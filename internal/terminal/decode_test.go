package terminal

import "testing"

func TestUTF8Decoder(t *testing.T) {
	tests := []struct {
		name  string
		reads []string
		want  string
	}{
		{"ascii", []string{"ls -la\r\n"}, "ls -la\r\n"},
		{"split three-byte rune", []string{"\xe2", "\x82\xac"}, "€"},
		{"split four-byte rune", []string{"a\xf0\x9f", "\x98\x80b"}, "a😀b"},
		{"invalid byte replaced", []string{"a\xffb"}, "a�b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newUTF8Decoder()
			var got string
			for i, r := range tt.reads {
				got += d.decode([]byte(r), i == len(tt.reads)-1)
			}
			if got != tt.want {
				t.Errorf("decode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClampSize(t *testing.T) {
	cols, rows := ClampSize(0, -1)
	if cols != DefaultCols || rows != DefaultRows {
		t.Errorf("ClampSize(0,-1) = %dx%d", cols, rows)
	}
	cols, rows = ClampSize(10000, 10000)
	if cols != MaxTermCols || rows != MaxTermRows {
		t.Errorf("ClampSize(10000,10000) = %dx%d", cols, rows)
	}
	if ValidSize(0, 24) || ValidSize(80, MaxTermRows+1) || !ValidSize(80, 24) {
		t.Error("ValidSize bounds wrong")
	}
}
