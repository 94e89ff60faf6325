package mqtt

import "fmt"

// Subscribe registers handler for topic and waits for the broker ack.
// MQTT wildcards work: "+" spans one level, "#" everything below.
//
// The subscription is tracked and replayed after every reconnect, so
// registering once survives broker restarts. Handlers run on paho's
// router goroutine; the daemons' handlers only decode and forward into
// their own channels, which keeps them cheap.
//
// Example:
//
//	topics := protocol.Topics{Device: cfg.Device}
//	err := client.Subscribe(topics.LockState(), 1,
//	    func(topic string, payload []byte) error {
//	        return coordinator.HandleLockState(payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Track before asking the broker. A reconnect racing this call
	// must not lose the subscription; a failed ack untracks below.
	c.track(topic, subscription{qos: qos, handler: handler})

	token := c.client.Subscribe(topic, qos, c.safeHandler(handler))
	if !token.WaitTimeout(ackTimeout) {
		c.untrack(topic)
		return fmt.Errorf("%w: no ack within %v", ErrSubscribeFailed, ackTimeout)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe stops delivery for topic. Messages already in flight may
// still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: no ack within %v", ErrUnsubscribeFailed, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (c *Client) track(topic string, sub subscription) {
	c.subsMu.Lock()
	c.subs[topic] = sub
	c.subsMu.Unlock()
}

func (c *Client) untrack(topic string) {
	c.subsMu.Lock()
	delete(c.subs, topic)
	c.subsMu.Unlock()
}

// SubscriptionCount reports how many topics are tracked.
func (c *Client) SubscriptionCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs)
}

// HasSubscription reports whether topic is tracked. Exact string
// comparison, no wildcard matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}
