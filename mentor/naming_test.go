package mentor

import "testing"

type HTTPServer2Config struct{}

type page[T any] struct{ Items []T }

func TestEntityName(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"school", EntityName[School](), "schools"},
		{"class", EntityName[Class](), "classes"},
		{"chat thread", EntityName[ChatThread](), "chat_threads"},
		{"pointer", EntityName[*ChatMessage](), "chat_messages"},
		{"acronym and digit", EntityName[HTTPServer2Config](), "http_server_2_configs"},
		{"generic", EntityName[page[Student]](), "pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, tt.got)
			}
		})
	}
}

func TestToSnake(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"Homework":     "homework",
		"ChatMessage":  "chat_message",
		"HTTPServer":   "http_server",
		"userID":       "user_id",
		"Class-Roster": "class_roster",
		"__Odd  Name":  "odd_name",
	}
	for in, want := range tests {
		if got := toSnake(in); got != want {
			t.Errorf("toSnake(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestExtractID(t *testing.T) {
	type legacy struct{ Id uint32 }

	tests := []struct {
		name   string
		record any
		want   int64
		ok     bool
	}{
		{"struct", Student{ID: 7}, 7, true},
		{"pointer", &Student{ID: 8}, 8, true},
		{"nil pointer", (*Student)(nil), 0, false},
		{"zero id", Student{}, 0, false},
		{"unsigned Id", legacy{Id: 3}, 3, true},
		{"not a struct", 42, 0, false},
		{"no id field", struct{ Name string }{"x"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractID(tt.record)
			if got != tt.want || ok != tt.ok {
				t.Errorf("expected (%d, %v), got (%d, %v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}
