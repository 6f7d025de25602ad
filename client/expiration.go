package client

import "context"

// StartStatusExpiration drops expired status records until ctx is canceled.
func (c *Client) StartStatusExpiration(ctx context.Context) {
	go c.statuses.Start()

	<-ctx.Done()
	c.statuses.Stop()
}
