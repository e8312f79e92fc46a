package sexpr

import "testing"

func kinds(tokens []Token) []Kind {
	out := make([]Kind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func TestLexBasicForms(t *testing.T) {
	tokens, errs := Lex(`(module $m (func (export "f") (result i32) i32.const 42))`)
	if len(errs) != 0 {
		t.Fatalf("lex errors: %v", errs)
	}
	if tokens[len(tokens)-1].Kind != EOF {
		t.Fatal("token stream must end with EOF")
	}

	want := []Kind{LParen, Keyword, Name, LParen, Keyword, LParen, Keyword, String,
		RParen, LParen, Keyword, Keyword, RParen, Keyword, Number, RParen, RParen, EOF}
	got := kinds(tokens)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d kind = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexOffsets(t *testing.T) {
	src := `(module)`
	tokens, _ := Lex(src)
	if tokens[0].Begin != 0 || tokens[0].End != 1 {
		t.Errorf("LParen offsets = %d..%d", tokens[0].Begin, tokens[0].End)
	}
	if tokens[1].Begin != 1 || tokens[1].End != 7 {
		t.Errorf("keyword offsets = %d..%d", tokens[1].Begin, tokens[1].End)
	}
	if src[tokens[1].Begin:tokens[1].End] != "module" {
		t.Error("offsets must slice the source exactly")
	}
}

func TestLexComments(t *testing.T) {
	tokens, errs := Lex(`
		;; line comment (with parens)
		(module (; block (; nested ;) comment ;) )
	`)
	if len(errs) != 0 {
		t.Fatalf("lex errors: %v", errs)
	}
	want := []Kind{LParen, Keyword, RParen, EOF}
	got := kinds(tokens)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

func TestLexStringEscapes(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`"plain"`, "plain"},
		{`"a\nb\tc"`, "a\nb\tc"},
		{`"quote:\" backslash:\\"`, `quote:" backslash:\`},
		{`"\00asm\01\00\00\00"`, "\x00asm\x01\x00\x00\x00"},
		{`"\u{48}\u{69}"`, "Hi"},
		{`"\u{1F600}"`, "\U0001F600"},
	}
	for _, tt := range tests {
		tokens, errs := Lex(tt.src)
		if len(errs) != 0 {
			t.Errorf("Lex(%q) errors: %v", tt.src, errs)
			continue
		}
		if tokens[0].Kind != String {
			t.Errorf("Lex(%q) kind = %v", tt.src, tokens[0].Kind)
			continue
		}
		if string(tokens[0].Bytes) != tt.want {
			t.Errorf("Lex(%q) = %q, want %q", tt.src, tokens[0].Bytes, tt.want)
		}
	}
}

func TestLexStringErrors(t *testing.T) {
	tests := []string{
		`"unterminated`,
		`"bad \q escape"`,
		`"bad \u escape"`,
	}
	for _, src := range tests {
		if _, errs := Lex(src); len(errs) == 0 {
			t.Errorf("Lex(%q) should report an error", src)
		}
	}
}

func TestLexNumbersAndKeywords(t *testing.T) {
	tokens, _ := Lex(`42 -1 +0x1F 3.14 -0x1.8p3 nan nan:0x7 inf -inf offset=16 $name`)
	wantKinds := []Kind{Number, Number, Number, Number, Number,
		Keyword, Keyword, Keyword, Number, Keyword, Name, EOF}
	got := kinds(tokens)
	if len(got) != len(wantKinds) {
		t.Fatalf("kinds = %v, want %v", got, wantKinds)
	}
	for i := range wantKinds {
		if got[i] != wantKinds[i] {
			t.Fatalf("token %d (%q) kind = %v, want %v", i, tokens[i].Text, got[i], wantKinds[i])
		}
	}
}

func TestLineInfoLocus(t *testing.T) {
	src := "abc\ndef\n\nghi"
	li := ScanLines(src)

	tests := []struct {
		offset, line, col int
	}{
		{0, 1, 1},
		{2, 1, 3},
		{4, 2, 1},
		{6, 2, 3},
		{8, 3, 1},
		{9, 4, 1},
		{11, 4, 3},
	}
	for _, tt := range tests {
		line, col := li.Locus(tt.offset)
		if line != tt.line || col != tt.col {
			t.Errorf("Locus(%d) = %d:%d, want %d:%d", tt.offset, line, col, tt.line, tt.col)
		}
	}
}

func TestParseIntBits(t *testing.T) {
	tests := []struct {
		text string
		bits uint
		want uint64
		ok   bool
	}{
		{"0", 32, 0, true},
		{"42", 32, 42, true},
		{"-1", 32, 0xFFFFFFFF, true},
		{"0xFF", 32, 255, true},
		{"-0x80000000", 32, 0x80000000, true},
		{"4294967295", 32, 0xFFFFFFFF, true},
		{"4294967296", 32, 0, false},
		{"-2147483649", 32, 0, false},
		{"1_000", 32, 1000, true},
		{"-1", 64, 0xFFFFFFFFFFFFFFFF, true},
		{"-9223372036854775808", 64, 0x8000000000000000, true},
	}
	for _, tt := range tests {
		got, ok := ParseIntBits(tt.text, tt.bits)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseIntBits(%q, %d) = %x, %v; want %x, %v",
				tt.text, tt.bits, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseFloatBits(t *testing.T) {
	tests := []struct {
		text string
		bits uint
		want uint64
	}{
		{"0", 32, 0},
		{"-0", 32, 0x80000000},
		{"1.5", 32, 0x3FC00000},
		{"inf", 32, 0x7F800000},
		{"-inf", 64, 0xFFF0000000000000},
		{"nan", 32, 0x7FC00000},
		{"nan:canonical", 64, 0x7FF8000000000000},
		{"nan:0x1", 32, 0x7F800001},
		{"0x1p4", 64, 0x4030000000000000},
		{"0x1.8", 32, 0x3FC00000},
	}
	for _, tt := range tests {
		got, ok := ParseFloatBits(tt.text, tt.bits)
		if !ok || got != tt.want {
			t.Errorf("ParseFloatBits(%q, %d) = %x, %v; want %x",
				tt.text, tt.bits, got, ok, tt.want)
		}
	}
}
