package validation

import "testing"

func TestIsValidCompleteJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"complete object", `{"a":1}`, true},
		{"complete array", `[1,2,3]`, true},
		{"unterminated string", `{"a":"b`, false},
		{"unterminated object", `{"a":1`, false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"trailing garbage", `{"a":1} x`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidCompleteJSON(tc.in); got != tc.want {
				t.Errorf("IsValidCompleteJSON(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseStreamJsonOutput_RecoversFromGarbageLine(t *testing.T) {
	// S5: feed "Not JSON\n{"type":"result","result":"OK"}\n"
	input := "Not JSON\n{\"type\":\"result\",\"result\":\"OK\"}\n"
	got := ParseStreamJsonOutput(input)
	if len(got) != 1 {
		t.Fatalf("expected 1 recovered object, got %d: %+v", len(got), got)
	}
	if got[0]["result"] != "OK" {
		t.Errorf("expected result=OK, got %v", got[0]["result"])
	}
}

func TestParseStreamJsonOutput_PreservesOrder(t *testing.T) {
	input := `{"type":"a","n":1}` + "\n" + `{"type":"b","n":2}` + "\n" + `{"type":"c","n":3}`
	got := ParseStreamJsonOutput(input)
	if len(got) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i]["type"] != want {
			t.Errorf("index %d: expected type %q, got %v", i, want, got[i]["type"])
		}
	}
}

func TestExtractCompleteObjectsFromLine_DropsMalformedFragments(t *testing.T) {
	line := `garbage {"ok":true} more garbage {broken`
	got := ExtractCompleteObjectsFromLine(line)
	if len(got) != 1 {
		t.Fatalf("expected 1 object, got %d: %+v", len(got), got)
	}
	if got[0]["ok"] != true {
		t.Errorf("expected ok=true, got %v", got[0]["ok"])
	}
}

func TestExtractLastCompleteJSON(t *testing.T) {
	s := `noise {"a":1} more noise [1,2,3] trailing`
	got := ExtractLastCompleteJSON(s)
	if got == nil {
		t.Fatal("expected a value, got nil")
	}
	arr, ok := got.([]interface{})
	if !ok {
		t.Fatalf("expected array result (outermost later span), got %T: %v", got, got)
	}
	if len(arr) != 3 {
		t.Errorf("expected 3 elements, got %d", len(arr))
	}
}

func TestSanitizePrompt(t *testing.T) {
	got, err := SanitizePrompt("hello\x00world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "helloworld" {
		t.Errorf("expected NUL stripped, got %q", got)
	}

	if _, err := SanitizePrompt("\x00\x00"); err == nil {
		t.Error("expected error for empty-after-sanitization prompt")
	}

	long := make([]byte, maxPromptLen+100)
	for i := range long {
		long[i] = 'a'
	}
	got, err = SanitizePrompt(string(long))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len([]rune(got)) != maxPromptLen {
		t.Errorf("expected truncation to %d chars, got %d", maxPromptLen, len([]rune(got)))
	}
}

func TestSanitizePromptIdempotent(t *testing.T) {
	first, err := SanitizePrompt("already clean")
	if err != nil {
		t.Fatal(err)
	}
	second, err := SanitizePrompt(first)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("expected idempotence, got %q then %q", first, second)
	}
}

func TestSanitizeContent(t *testing.T) {
	if got := SanitizeContent(42); got != "" {
		t.Errorf("expected empty string for non-string input, got %q", got)
	}
	got := SanitizeContent("a\x00b\tc\nd\re\x01f")
	want := "ab\tc\nd\ref"
	if got != want {
		t.Errorf("SanitizeContent = %q, want %q", got, want)
	}
}

func TestValidateFormat(t *testing.T) {
	cases := []struct {
		in      interface{}
		want    Format
		wantErr bool
	}{
		{nil, FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"Markdown", FormatMarkdown, false},
		{"stream-json", FormatStreamJSON, false},
		{"xml", "", true},
		{42, "", true},
	}
	for _, tc := range cases {
		got, err := ValidateFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateFormat(%v) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ValidateFormat(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidateAttachments_DefaultsName(t *testing.T) {
	list := []map[string]interface{}{
		{"type": "file"},
		{"type": "image", "name": "pic.png"},
	}
	got, err := ValidateAttachments(list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].Name != "attachment_0" {
		t.Errorf("expected default name attachment_0, got %q", got[0].Name)
	}
	if got[1].Name != "pic.png" {
		t.Errorf("expected pic.png, got %q", got[1].Name)
	}
}

func TestValidateAttachments_TooMany(t *testing.T) {
	list := make([]map[string]interface{}, 11)
	for i := range list {
		list[i] = map[string]interface{}{"type": "file"}
	}
	if _, err := ValidateAttachments(list); err == nil {
		t.Error("expected error for 11 attachments")
	}
}

func TestValidateAttachments_TooLarge(t *testing.T) {
	list := []map[string]interface{}{
		{"type": "file", "size": float64(11 * 1024 * 1024)},
	}
	if _, err := ValidateAttachments(list); err == nil {
		t.Error("expected error for oversized attachment")
	}
}

func TestValidateStreamChunk(t *testing.T) {
	cases := []struct {
		name  string
		chunk map[string]interface{}
		want  bool
	}{
		{"nil chunk", nil, false},
		{"missing type", map[string]interface{}{"data": 1}, false},
		{"missing data", map[string]interface{}{"type": "content"}, false},
		{"empty content", map[string]interface{}{"type": "content", "data": 1, "content": "  "}, false},
		{"valid content", map[string]interface{}{"type": "content", "data": 1, "content": "hi"}, true},
		{"tool_use missing name", map[string]interface{}{"type": "tool_use", "data": 1}, false},
		{"tool_use valid", map[string]interface{}{"type": "tool_use", "data": 1, "name": "Read"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateStreamChunk(tc.chunk); got != tc.want {
				t.Errorf("ValidateStreamChunk(%v) = %v, want %v", tc.chunk, got, tc.want)
			}
		})
	}
}

func TestExtractFinalResult(t *testing.T) {
	responses := []map[string]interface{}{
		{"content": "a"},
		{"content": "b"},
		{"result": "final"},
	}
	if got := ExtractFinalResult(responses); got != "final" {
		t.Errorf("expected last result field to win, got %v", got)
	}

	noResult := []map[string]interface{}{
		{"content": "a"},
		{"content": "b"},
	}
	if got := ExtractFinalResult(noResult); got != "ab" {
		t.Errorf("expected concatenated content, got %v", got)
	}

	fallback := []map[string]interface{}{
		{"type": "x"},
	}
	got := ExtractFinalResult(fallback)
	m, ok := got.(map[string]interface{})
	if !ok || m["type"] != "x" {
		t.Errorf("expected fallback to last response, got %v", got)
	}
}

func TestExtractSessionID(t *testing.T) {
	responses := []map[string]interface{}{
		{"foo": "bar"},
		{"session_id": "abc"},
		{"session_id": "xyz"},
	}
	if got := ExtractSessionID(responses); got != "abc" {
		t.Errorf("expected first session_id, got %q", got)
	}
	if got := ExtractSessionID(nil); got != "" {
		t.Errorf("expected empty string for nil input, got %q", got)
	}
}
