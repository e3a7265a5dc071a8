package mqtt

import (
	"context"
	"fmt"
)

// Subscribe registers a handler for messages on topic. MQTT wildcards
// (+ and #) are allowed. The subscription is restored after reconnects.
//
// Retained messages on matching topics are delivered immediately, which
// the MQTT backend relies on for device discovery.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
	defer cancel()
	if err := waitToken(ctx, c.client.Subscribe(topic, qos, c.wrapHandler(handler))); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe removes a subscription. Messages already in flight may
// still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
	defer cancel()
	if err := waitToken(ctx, c.client.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}
