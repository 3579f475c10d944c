package core

import (
	"errors"
	"fmt"
)

// Question is one step of a Form.
type Question struct {
	Field  string
	Prompt string
	// Validate rejects an answer; its error text is sent before the prompt
	// is asked again. Nil accepts anything non-empty.
	Validate func(answer string) error
}

// Form asks its questions in order, one message each, then calls Done
// with the answers keyed by field.
type Form struct {
	Questions []Question
	Done      func(c *Context, answers map[string]string) error
}

var errEmptyAnswer = errors.New("answer must not be empty")

// Run asks the first question in the current chat.
func (f *Form) Run(c *Context) error {
	if len(f.Questions) == 0 {
		return fmt.Errorf("form has no questions")
	}
	return f.ask(c, 0, make(map[string]string, len(f.Questions)))
}

func (f *Form) ask(c *Context, i int, answers map[string]string) error {
	q := f.Questions[i]
	if err := c.WaitForRequest(func(next *Context) error {
		return f.receive(next, i, answers)
	}); err != nil {
		return fmt.Errorf("ask %s: %w", q.Field, err)
	}
	if _, err := c.SendMessage(q.Prompt); err != nil {
		return fmt.Errorf("ask %s: %w", q.Field, err)
	}
	return nil
}

func (f *Form) receive(c *Context, i int, answers map[string]string) error {
	q := f.Questions[i]

	err := errEmptyAnswer
	if c.Text != "" {
		err = nil
		if q.Validate != nil {
			err = q.Validate(c.Text)
		}
	}
	if err != nil {
		if _, sendErr := c.SendMessage(err.Error()); sendErr != nil {
			return fmt.Errorf("reject %s: %w", q.Field, sendErr)
		}
		return f.ask(c, i, answers)
	}

	answers[q.Field] = c.Text
	if i+1 < len(f.Questions) {
		return f.ask(c, i+1, answers)
	}
	if f.Done == nil {
		return nil
	}
	return f.Done(c, answers)
}
