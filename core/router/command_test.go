package router

import (
	"reflect"
	"strings"
	"testing"

	"github.com/mymmrac/telego"
)

func TestCommandMatch(t *testing.T) {
	fromBot := func(u *telego.Update, _ string) bool {
		return u.Message != nil && u.Message.From != nil && u.Message.From.IsBot
	}

	tests := []struct {
		name       string
		cmd        *Command
		text       string
		wantOK     bool
		wantParams map[string]string
	}{
		{"text contains", Text("ping", ""), "please ping me", true, nil},
		{"text missing", Text("ping", ""), "pong", false, nil},
		{"text empty message", Text("ping", ""), "", false, nil},
		{"regexp match", MustRegexp(`^/start(@\w+)?$`, ""), "/start@my_bot", true, nil},
		{"regexp miss", MustRegexp(`^/start$`, ""), "/started", false, nil},
		{"param bind", Param("/user :id", ""), "/user 42", true, map[string]string{"id": "42"}},
		{"param bot suffix", Param("/user :id", ""), "/user@my_bot 42", true, map[string]string{"id": "42"}},
		{"param too few", Param("/user :id", ""), "/user", false, nil},
		{"param too many", Param("/user :id", ""), "/user 42 43", false, nil},
		{"param literal mismatch", Param("/user :id", ""), "/users 42", false, nil},
		{"param literal only", Param("/help", ""), "/help", true, map[string]string{}},
		{"predicate", Predicate(fromBot, ""), "x", false, nil},
		{"any", AnyCommand(""), "", true, nil},
	}

	u := &telego.Update{Message: &telego.Message{From: &telego.User{ID: 1}}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, ok := tt.cmd.Match(u, tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if tt.wantOK && tt.wantParams != nil && !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("params = %v, want %v", params, tt.wantParams)
			}
		})
	}
}

func TestRegexpInvalid(t *testing.T) {
	if _, err := Regexp("(", "h"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestStripBotName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/status", "/status"},
		{"/status@mybot", "/status"},
		{"user@example.com", "user@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripBotName(tt.in); got != tt.want {
			t.Errorf("stripBotName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandString(t *testing.T) {
	if got := Param("/user :id", "h").String(); !strings.HasPrefix(got, "param(") {
		t.Errorf("String() = %q", got)
	}
}
