package events

import "context"

func (c *Consumer) HandlerContext() (context.Context, context.CancelFunc) {
	return c.handlerContext()
}
