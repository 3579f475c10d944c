package router_test

import (
	"reflect"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core/router"
)

func textUpdate(text string) *telego.Update {
	return &telego.Update{
		UpdateID: 1,
		Message: &telego.Message{
			MessageID: 1,
			Chat:      telego.Chat{ID: 100},
			Text:      text,
		},
	}
}

type pair struct {
	target  string
	handler string
}

func pairs(ms []router.Match[string]) []pair {
	out := make([]pair, 0, len(ms))
	for _, m := range ms {
		out = append(out, pair{m.Target, m.Handler})
	}
	return out
}

func TestFanOutAcrossRoutes(t *testing.T) {
	r := router.New[string]()
	r.Any("middleware")
	r.When("c1", router.Text("/a", "onA"))
	r.When("c2", router.Text("/a", "onA"), router.Text("/b", "onB"))

	u := textUpdate("/a")
	got := pairs(r.Match(u, u.Message.Text))
	want := []pair{{"middleware", ""}, {"c1", "onA"}, {"c2", "onA"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("matches = %v, want %v", got, want)
	}
}

func TestFirstCommandWinsWithinRoute(t *testing.T) {
	r := router.New[string]()
	r.When("c", router.Text("/start", "first"), router.Text("/st", "second"))

	u := textUpdate("/start")
	got := pairs(r.Match(u, u.Message.Text))
	want := []pair{{"c", "first"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("matches = %v, want %v", got, want)
	}
}

func TestOtherwiseOnlyWhenUnrouted(t *testing.T) {
	r := router.New[string]()
	r.When("c", router.Text("/a", "onA"))
	r.Otherwise("fallback")

	u := textUpdate("hello")
	got := pairs(r.Match(u, u.Message.Text))
	if want := []pair{{"fallback", ""}}; !reflect.DeepEqual(got, want) {
		t.Errorf("unrouted matches = %v, want %v", got, want)
	}

	u = textUpdate("/a")
	got = pairs(r.Match(u, u.Message.Text))
	if want := []pair{{"c", "onA"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("routed matches = %v, want %v", got, want)
	}
}

func TestAnyDoesNotSuppressOtherwise(t *testing.T) {
	r := router.New[string]()
	r.Any("logger")
	r.Otherwise("fallback")

	u := textUpdate("anything")
	got := pairs(r.Match(u, u.Message.Text))
	want := []pair{{"logger", ""}, {"fallback", ""}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("matches = %v, want %v", got, want)
	}
}

func TestNoMatch(t *testing.T) {
	r := router.New[string]()
	r.When("c", router.Text("/a", "onA"))

	u := textUpdate("nothing")
	if got := r.Match(u, u.Message.Text); len(got) != 0 {
		t.Errorf("matches = %v, want none", got)
	}
}

func TestParamBinding(t *testing.T) {
	r := router.New[string]()
	r.When("users", router.Param("/user :id :field", "show"))

	u := textUpdate("/user 42 email")
	ms := r.Match(u, u.Message.Text)
	if len(ms) != 1 {
		t.Fatalf("matches = %d, want 1", len(ms))
	}
	want := map[string]string{"id": "42", "field": "email"}
	if !reflect.DeepEqual(ms[0].Params, want) {
		t.Errorf("params = %v, want %v", ms[0].Params, want)
	}
}

func TestSingleSlots(t *testing.T) {
	r := router.New[string]()
	if _, ok := r.CallbackTarget(); ok {
		t.Error("callback target set on empty router")
	}
	r.CallbackQuery("cb")
	r.InlineQuery("inline")

	if got, ok := r.CallbackTarget(); !ok || got != "cb" {
		t.Errorf("callback target = %q, %v", got, ok)
	}
	if got, ok := r.InlineTarget(); !ok || got != "inline" {
		t.Errorf("inline target = %q, %v", got, ok)
	}
}
