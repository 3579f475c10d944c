package core

import (
	"strconv"

	"github.com/mymmrac/telego"
)

// InlinePageSize is the most results one inline answer may carry.
const InlinePageSize = 50

// AnswerInlineQueryPaged answers the current inline query with the page of
// results its offset selects. When more results remain, the answer carries
// a next offset and the same query from the same user is routed back here
// for the following page.
func (c *Context) AnswerInlineQueryPaged(results []telego.InlineQueryResult) error {
	if c.InlineQuery == nil {
		return nil
	}

	offset, err := strconv.Atoi(c.InlineQuery.Offset)
	if err != nil || offset < 0 || offset > len(results) {
		offset = 0
	}
	end := min(offset+InlinePageSize, len(results))

	next := ""
	if end < len(results) {
		next = strconv.Itoa(end)
		c.WaitForInlineQuery(c.InlineQuery.Query, func(nc *Context) error {
			return nc.AnswerInlineQueryPaged(results)
		})
	}
	return c.AnswerInlineQuery(results[offset:end], next)
}

// ArticleResult builds a plain text article result.
func ArticleResult(id, title, text string) telego.InlineQueryResult {
	return &telego.InlineQueryResultArticle{
		Type:                telego.ResultTypeArticle,
		ID:                  id,
		Title:               title,
		InputMessageContent: &telego.InputTextMessageContent{MessageText: text},
	}
}
