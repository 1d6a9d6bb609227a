package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublish_DeliversInRegistrationOrder(t *testing.T) {
	bus := New()
	var order []int
	bus.Subscribe(TopicTrade, func(any) { order = append(order, 1) })
	bus.Subscribe(TopicTrade, func(any) { order = append(order, 2) })
	bus.Subscribe(TopicTrade, func(any) { order = append(order, 3) })

	bus.Publish(TopicTrade, nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubscribe_IsIdempotentByHandlerIdentity(t *testing.T) {
	bus := New()
	calls := 0
	h := func(any) { calls++ }

	bus.Subscribe(TopicTicker, h)
	bus.Subscribe(TopicTicker, h)
	assert.Equal(t, 1, bus.SubscriberCount(TopicTicker))

	bus.Publish(TopicTicker, nil)
	assert.Equal(t, 1, calls)
}

func TestUnsubscribe_RemovesHandler(t *testing.T) {
	bus := New()
	calls := 0
	h := func(any) { calls++ }
	bus.Subscribe(TopicTicker, h)
	bus.Unsubscribe(TopicTicker, h)

	bus.Publish(TopicTicker, nil)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriberCount(TopicTicker))
}

func TestPublish_PanicIsolatedToErrorTopic(t *testing.T) {
	bus := New()
	var secondCalled bool
	var errEvents []HandlerError

	bus.Subscribe(ErrorTopic, func(payload any) {
		if e, ok := payload.(HandlerError); ok {
			errEvents = append(errEvents, e)
		}
	})
	bus.Subscribe(TopicTrade, func(any) { panic("boom") })
	bus.Subscribe(TopicTrade, func(any) { secondCalled = true })

	assert.NotPanics(t, func() { bus.Publish(TopicTrade, "payload") })
	assert.True(t, secondCalled, "later subscribers must still run after an earlier one panics")
	assert.Len(t, errEvents, 1)
	assert.Equal(t, TopicTrade, errEvents[0].Topic)
}

func TestPublish_PanicOnErrorTopicDoesNotRecurse(t *testing.T) {
	bus := New()
	calls := 0
	bus.Subscribe(ErrorTopic, func(any) {
		calls++
		panic("nested boom")
	})

	assert.NotPanics(t, func() { bus.Publish(ErrorTopic, HandlerError{}) })
	assert.Equal(t, 1, calls)
}

func TestPublish_AllowsRecursivePublishFromHandler(t *testing.T) {
	bus := New()
	var order []string
	bus.Subscribe(TopicTrade, func(any) {
		order = append(order, "outer-start")
		bus.Publish(TopicTicker, nil)
		order = append(order, "outer-end")
	})
	bus.Subscribe(TopicTicker, func(any) { order = append(order, "inner") })

	bus.Publish(TopicTrade, nil)

	assert.Equal(t, []string{"outer-start", "inner", "outer-end"}, order)
}

func TestTopics_ReturnsSortedSubscribedTopics(t *testing.T) {
	bus := New()
	bus.Subscribe(TopicTrade, func(any) {})
	bus.Subscribe(TopicOIAgg, func(any) {})
	bus.Subscribe(TopicFunding, func(any) {})

	topics := bus.Topics()
	assert.IsIncreasing(t, topics)
}
