package llmjson

import (
	"errors"
	"testing"
)

type payload struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    payload
		wantErr bool
	}{
		{
			name: "plain object",
			raw:  `{"summary": "ok", "key_points": ["a"]}`,
			want: payload{Summary: "ok", KeyPoints: []string{"a"}},
		},
		{
			name: "fenced",
			raw:  "```json\n{\"summary\": \"fenced\", \"key_points\": []}\n```",
			want: payload{Summary: "fenced", KeyPoints: []string{}},
		},
		{
			name: "prose around object",
			raw:  "Here is the summary you asked for:\n{\"summary\": \"prose\"}\nLet me know if you need more.",
			want: payload{Summary: "prose"},
		},
		{
			name: "trailing comma repaired",
			raw:  `{"summary": "repaired", "key_points": ["a", "b",],}`,
			want: payload{Summary: "repaired", KeyPoints: []string{"a", "b"}},
		},
		{
			name:    "no object",
			raw:     "I'm sorry, I cannot summarise an empty transcript.",
			wantErr: true,
		},
		{
			name:    "wrong shape",
			raw:     `{"summary": ["not", "a", "string"]}`,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got payload
			err := Decode(tc.raw, &got)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Summary != tc.want.Summary || len(got.KeyPoints) != len(tc.want.KeyPoints) {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestExtract_NoObject(t *testing.T) {
	t.Parallel()
	if _, err := Extract("no braces here"); !errors.Is(err, ErrNoObject) {
		t.Errorf("err = %v, want ErrNoObject", err)
	}
}
