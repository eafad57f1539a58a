package relay

import "testing"

func TestParseTrigger(t *testing.T) {
	cases := []struct {
		text       string
		wantPrompt string
		wantOK     bool
	}{
		{"@gpt what is 2+2", "what is 2+2", true},
		{"  @GPT hi ", "PT hi", true},
		{" @gpt hello", "t hello", true},
		{"\u3000@gpt hi", "t hi", true},
		{"@Gpt\tsummarize this", "summarize this", true},
		{"@gptx hello", "x hello", true},
		{"@gpt", "", true},
		{"hello @gpt", "", false},
		{"@gp", "", false},
		{"gpt hello", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			prompt, ok := ParseTrigger(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("ParseTrigger(%q) ok = %v, want %v", tc.text, ok, tc.wantOK)
			}
			if prompt != tc.wantPrompt {
				t.Errorf("ParseTrigger(%q) prompt = %q, want %q", tc.text, prompt, tc.wantPrompt)
			}
		})
	}
}
