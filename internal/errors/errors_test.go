package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "template error",
			code:    "W101",
			wantMsg: "Template syntax error",
			wantCat: CategoryTemplate,
		},
		{
			name:    "render error",
			code:    "W301",
			wantMsg: "Render failed",
			wantCat: CategoryRender,
		},
		{
			name:    "unknown error code",
			code:    "W999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestWeftError_Error(t *testing.T) {
	if got, want := New("W102").Error(), "W102: Template not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	wrapped := New("W102").Wrap(fmt.Errorf("no template %q", "card"))
	if got, want := wrapped.Error(), `W102: Template not found: no template "card"`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := Newf(CategoryCLI, "bad flag %s", "-x").Error(); got != "bad flag -x" {
		t.Errorf("Error() = %q", got)
	}
}

type codedError struct{ code string }

func (e *codedError) Error() string     { return "coded failure" }
func (e *codedError) ErrorCode() string { return e.code }

func TestFromError(t *testing.T) {
	if FromError(nil, "W501") != nil {
		t.Error("FromError(nil) != nil")
	}

	inner := &codedError{code: "W201"}
	we := FromError(fmt.Errorf("commit: %w", inner), "W501")
	if we.Code != "W201" || we.Category != CategoryReconcile {
		t.Errorf("code = %q, category = %q", we.Code, we.Category)
	}
	var target *codedError
	if !stderrors.As(we, &target) {
		t.Error("wrapped error lost")
	}

	plain := FromError(stderrors.New("boom"), "W501")
	if plain.Code != "W501" {
		t.Errorf("fallback code = %q", plain.Code)
	}

	existing := New("W401")
	if FromError(existing, "W501") != existing {
		t.Error("WeftError was re-wrapped")
	}
}

func TestWithLocation(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "card.xml")
	content := "<div>\n  <p>\n    <t t-foreach=\"items\">\n  </p>\n</div>\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New("W101").WithLocation(tmpFile, 3, 5)
	if err.Location.String() != tmpFile+":3:5" {
		t.Errorf("Location = %q", err.Location.String())
	}
	if len(err.Context) != 5 {
		t.Fatalf("Context = %q", err.Context)
	}
	if err.Context[2] != `    <t t-foreach="items">` {
		t.Errorf("Context[2] = %q", err.Context[2])
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	tmpFile := filepath.Join(t.TempDir(), "page.xml")
	if err := os.WriteFile(tmpFile, []byte("<a>\n<b>\n<c t-if=\"\">\n</b>\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := New("W101").
		Wrap(stderrors.New("template page:3: t-if: empty expression")).
		WithLocation(tmpFile, 3, 4).
		Format()

	for _, want := range []string{
		"ERROR W101: Template syntax error",
		tmpFile + ":3:4",
		"→    3 │ <c t-if=\"\">",
		"       │    ^",
		"template page:3: t-if: empty expression",
		"Hint: Check the directive on the highlighted line",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("colors emitted while disabled")
	}
}

func TestFormatCompact(t *testing.T) {
	err := New("W102")
	err.Location = &Location{File: "a.xml", Line: 2}
	if got, want := err.FormatCompact(), "a.xml:2: W102: Template not found"; got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("W301").Wrap(stderrors.New("boom"))
	var decoded map[string]any
	if e := json.Unmarshal([]byte(err.FormatJSON()), &decoded); e != nil {
		t.Fatalf("invalid JSON: %v", e)
	}
	if decoded["code"] != "W301" || decoded["error"] != "boom" || decoded["category"] != "render" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestRegistry(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 || codes[0] != "W101" {
		t.Fatalf("codes = %v", codes)
	}
	for _, code := range codes {
		tmpl, ok := GetTemplate(code)
		if !ok || tmpl.Message == "" || tmpl.Category == "" {
			t.Errorf("%s: incomplete template %+v", code, tmpl)
		}
	}

	Register("W599", ErrorTemplate{Category: CategoryCLI, Message: "Custom"})
	defer delete(registry, "W599")
	if New("W599").Message != "Custom" {
		t.Error("registered template not used")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("the quick brown fox jumps over the lazy dog", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Errorf("line %q longer than 10", l)
		}
	}
	if strings.Join(lines, " ") != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("lines = %q", lines)
	}
}
