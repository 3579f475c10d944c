package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mymmrac/telego"
)

// Kind identifies how a Command matches.
type Kind int

const (
	KindText Kind = iota
	KindRegexp
	KindParam
	KindPredicate
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRegexp:
		return "regexp"
	case KindParam:
		return "param"
	case KindPredicate:
		return "predicate"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PredicateFunc decides whether a command applies to an update.
type PredicateFunc func(u *telego.Update, text string) bool

// Command pairs a matcher with the name of the handler it selects. An empty
// handler name selects the controller's Handle method.
type Command struct {
	Kind    Kind
	Pattern string
	Handler string

	re     *regexp.Regexp
	tokens []string
	pred   PredicateFunc
}

// Text matches when the message text contains pattern.
func Text(pattern, handler string) *Command {
	return &Command{Kind: KindText, Pattern: pattern, Handler: handler}
}

// Regexp matches when the message text matches the expression.
func Regexp(pattern, handler string) (*Command, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile command pattern %q: %w", pattern, err)
	}
	return &Command{Kind: KindRegexp, Pattern: pattern, Handler: handler, re: re}, nil
}

// MustRegexp is like Regexp but panics on an invalid expression.
func MustRegexp(pattern, handler string) *Command {
	c, err := Regexp(pattern, handler)
	if err != nil {
		panic(err)
	}
	return c
}

// Param matches whitespace-separated text with the same token count as
// pattern. Tokens written as ":name" bind the text token to name; all other
// tokens must be equal. "/user :id" matches "/user 42" with id=42.
func Param(pattern, handler string) *Command {
	return &Command{Kind: KindParam, Pattern: pattern, Handler: handler, tokens: strings.Fields(pattern)}
}

// Predicate matches when fn returns true.
func Predicate(fn PredicateFunc, handler string) *Command {
	return &Command{Kind: KindPredicate, Pattern: "<predicate>", Handler: handler, pred: fn}
}

// AnyCommand always matches.
func AnyCommand(handler string) *Command {
	return &Command{Kind: KindAny, Pattern: "*", Handler: handler}
}

// Match reports whether the command accepts the update. Param commands
// return the bound parameters.
func (c *Command) Match(u *telego.Update, text string) (map[string]string, bool) {
	switch c.Kind {
	case KindText:
		return nil, text != "" && strings.Contains(text, c.Pattern)
	case KindRegexp:
		return nil, c.re.MatchString(text)
	case KindParam:
		return matchParams(c.tokens, strings.Fields(text))
	case KindPredicate:
		return nil, c.pred != nil && c.pred(u, text)
	case KindAny:
		return nil, true
	default:
		return nil, false
	}
}

func (c *Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind, c.Pattern)
}

func matchParams(pattern, fields []string) (map[string]string, bool) {
	if len(pattern) == 0 || len(pattern) != len(fields) {
		return nil, false
	}

	params := make(map[string]string)
	for i, tok := range pattern {
		if len(tok) > 1 && tok[0] == ':' {
			params[tok[1:]] = fields[i]
			continue
		}
		field := fields[i]
		if i == 0 {
			field = stripBotName(field)
		}
		if field != tok {
			return nil, false
		}
	}
	return params, true
}

// stripBotName turns "/command@botname" into "/command".
func stripBotName(token string) string {
	if !strings.HasPrefix(token, "/") {
		return token
	}
	if at := strings.Index(token, "@"); at != -1 {
		return token[:at]
	}
	return token
}
