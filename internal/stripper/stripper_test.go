package stripper

import (
	"strings"
	"testing"
)

func mustLang(t *testing.T, tag string) *Language {
	t.Helper()
	lang, err := ForTag(tag)
	if err != nil {
		t.Fatal(err)
	}
	return lang
}

func TestStrip_GoLineComments(t *testing.T) {
	lang := mustLang(t, "go")

	src := "package x\n\n// Add returns the sum\nfunc Add(a, b int) int {\n\treturn a + b // sum\n}\n"
	got := Strip(lang, src)

	if strings.Contains(got, "sum") {
		t.Errorf("comment text survived stripping:\n%s", got)
	}
	if !strings.Contains(got, "return a + b") {
		t.Errorf("code removed:\n%s", got)
	}
	if strings.Contains(got, "//") {
		t.Errorf("comment marker survived:\n%s", got)
	}
}

func TestStrip_GoBlockComment(t *testing.T) {
	lang := mustLang(t, "go")

	src := "x := 1 /* inline note */ + 2\n/* whole line */\ny := 3\n"
	got := Strip(lang, src)

	if strings.Contains(got, "note") || strings.Contains(got, "whole line") {
		t.Errorf("block comment survived:\n%s", got)
	}
	if !strings.Contains(got, "x := 1 + 2") {
		t.Errorf("inline code mangled:\n%q", got)
	}
	if !strings.Contains(got, "y := 3") {
		t.Errorf("code after block comment removed:\n%s", got)
	}
}

func TestStrip_PreservesStringContent(t *testing.T) {
	lang := mustLang(t, "go")

	// Comment-like substrings inside string literals must stay byte-identical
	src := "s := \"http://example.com // not a comment\"\nr := `raw /* keep */ text`\n"
	got := Strip(lang, src)

	if !strings.Contains(got, `"http://example.com // not a comment"`) {
		t.Errorf("double-quoted string altered:\n%s", got)
	}
	if !strings.Contains(got, "`raw /* keep */ text`") {
		t.Errorf("raw string altered:\n%s", got)
	}
}

func TestStrip_MultilineRawStringUntouched(t *testing.T) {
	lang := mustLang(t, "go")

	src := "q := `line one  \n// looks like comment\ttrailing\t`\n"
	got := Strip(lang, src)

	if got != src {
		t.Errorf("multiline raw string modified:\ngot  %q\nwant %q", got, src)
	}
}

func TestStrip_PythonDocstrings(t *testing.T) {
	lang := mustLang(t, "python")

	src := "def add(a, b):\n    \"\"\"Return the sum of a and b.\"\"\"\n    return a + b  # sum\n"
	got := Strip(lang, src)

	if strings.Contains(got, "Return the sum") {
		t.Errorf("docstring survived:\n%s", got)
	}
	if strings.Contains(got, "# sum") {
		t.Errorf("hash comment survived:\n%s", got)
	}
	if !strings.Contains(got, "return a + b") {
		t.Errorf("code removed:\n%s", got)
	}
}

func TestStrip_PythonAssignedTripleQuoteKept(t *testing.T) {
	lang := mustLang(t, "python")

	// A triple-quoted string used as a value is data, not a doc comment
	src := "template = \"\"\"hello # world\"\"\"\n"
	got := Strip(lang, src)

	if !strings.Contains(got, "hello # world") {
		t.Errorf("assigned triple-quoted string removed:\n%s", got)
	}
}

func TestStrip_PythonHashInString(t *testing.T) {
	lang := mustLang(t, "python")

	src := "color = \"#ff0000\"  # red\n"
	got := Strip(lang, src)

	if !strings.Contains(got, `"#ff0000"`) {
		t.Errorf("hash inside string removed:\n%s", got)
	}
	if strings.Contains(got, "red") {
		t.Errorf("comment survived:\n%s", got)
	}
}

func TestStrip_Idempotent(t *testing.T) {
	sources := map[string]string{
		"go":         "package x\n// c1\nfunc F() { /* c2 */ s := \"// s\" }\n",
		"python":     "def f():\n    '''doc'''\n    x = 1  # c\n    return x\n",
		"javascript": "// top\nconst x = `tpl // keep`; /* gone */\n",
		"rust":       "// doc\nfn main() { let s = \"/* keep */\"; }\n",
	}

	for tag, src := range sources {
		lang := mustLang(t, tag)
		once := Strip(lang, src)
		twice := Strip(lang, once)
		if once != twice {
			t.Errorf("%s: strip not idempotent\nonce:  %q\ntwice: %q", tag, once, twice)
		}
	}
}

func TestStrip_DropsPureCommentLines(t *testing.T) {
	lang := mustLang(t, "go")

	src := "// line one\n// line two\nx := 1\n"
	got := Strip(lang, src)

	if got != "x := 1\n" {
		t.Errorf("got %q, want %q", got, "x := 1\n")
	}
}

func TestStrip_EscapedQuotesInString(t *testing.T) {
	lang := mustLang(t, "go")

	src := "s := \"say \\\"hi\\\" // ok\"\n"
	got := Strip(lang, src)

	if got != src {
		t.Errorf("escaped quotes mishandled:\ngot  %q\nwant %q", got, src)
	}
}

func TestForFile(t *testing.T) {
	tests := []struct {
		path string
		tag  string
	}{
		{"foo_test.go", "go"},
		{"test_foo.py", "python"},
		{"foo.test.ts", "typescript"},
		{"lib.rs", "rust"},
	}

	for _, tt := range tests {
		lang, err := ForFile(tt.path)
		if err != nil {
			t.Errorf("ForFile(%s): %v", tt.path, err)
			continue
		}
		if lang.Tag != tt.tag {
			t.Errorf("ForFile(%s) = %s, want %s", tt.path, lang.Tag, tt.tag)
		}
	}

	if _, err := ForFile("notes.txt"); err == nil {
		t.Error("ForFile(.txt) should fail")
	}
}

func TestForTag_Unknown(t *testing.T) {
	if _, err := ForTag("cobol"); err == nil {
		t.Error("ForTag(cobol) should fail")
	}
}
