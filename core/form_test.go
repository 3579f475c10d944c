package core

import (
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/jdelaire/teleflow/core/router"
	"github.com/jdelaire/teleflow/core/session"
)

func TestFormAsksValidatesAndCompletes(t *testing.T) {
	d, doer := newTestDispatcher(session.NewMemoryStore())

	var answers map[string]string
	form := &Form{
		Questions: []Question{
			{Field: "name", Prompt: "Your name?"},
			{Field: "age", Prompt: "Your age?", Validate: func(s string) error {
				if _, err := strconv.Atoi(s); err != nil {
					return errors.New("please send a number")
				}
				return nil
			}},
		},
		Done: func(c *Context, a map[string]string) error {
			answers = a
			_, err := c.SendMessage("Thanks, " + a["name"])
			return err
		},
	}
	if err := d.When(HandlerFunc(form.Run), router.Text("/register", "")); err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"/register", "Ada", "old", "36"} {
		dispatch(t, d, messageUpdate(1, 1, text))
	}

	want := map[string]string{"name": "Ada", "age": "36"}
	if !reflect.DeepEqual(answers, want) {
		t.Errorf("answers = %v, want %v", answers, want)
	}
	sent := []string{"Your name?", "Your age?", "please send a number", "Your age?", "Thanks, Ada"}
	if got := doer.sentTexts(); !reflect.DeepEqual(got, sent) {
		t.Errorf("sent = %q, want %q", got, sent)
	}
	if n := d.PendingContinuations(); n != 0 {
		t.Errorf("pending continuations = %d, want 0", n)
	}
}

func TestFormWithoutQuestions(t *testing.T) {
	c := &Context{}
	if err := (&Form{}).Run(c); err == nil {
		t.Fatal("expected error for empty form")
	}
}

func TestFormWithoutChat(t *testing.T) {
	form := &Form{Questions: []Question{{Field: "name", Prompt: "Name?"}}}
	if err := form.Run(&Context{}); !errors.Is(err, ErrNoChat) {
		t.Fatalf("err = %v, want ErrNoChat", err)
	}
}

func TestAnswerInlineQueryPaged(t *testing.T) {
	d, doer := newTestDispatcher(session.NewMemoryStore())

	results := make([]telego.InlineQueryResult, 120)
	for i := range results {
		id := strconv.Itoa(i)
		results[i] = ArticleResult(id, "item "+id, id)
	}
	calls := 0
	d.InlineQuery(HandlerFunc(func(c *Context) error {
		calls++
		return c.AnswerInlineQueryPaged(results)
	}))

	dispatch(t, d, inlineUpdate(7, "items", ""))
	dispatch(t, d, inlineUpdate(7, "items", "50"))
	dispatch(t, d, inlineUpdate(7, "items", "100"))

	answers := doer.inlineAnswers()
	if len(answers) != 3 {
		t.Fatalf("answers = %d, want 3", len(answers))
	}
	wantSizes := []int{50, 50, 20}
	wantNext := []string{"50", "100", ""}
	for i, a := range answers {
		if len(a.Results) != wantSizes[i] || a.NextOffset != wantNext[i] {
			t.Errorf("page %d: %d results, next %q; want %d, %q", i, len(a.Results), a.NextOffset, wantSizes[i], wantNext[i])
		}
	}
	if calls != 1 {
		t.Errorf("inline controller calls = %d, want 1 (later pages served by continuation)", calls)
	}
	if n := d.PendingContinuations(); n != 0 {
		t.Errorf("pending continuations = %d, want 0", n)
	}
}
