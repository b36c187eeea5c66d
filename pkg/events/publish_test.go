package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"
)

func TestPublisherManager_DeliversSerializedEvents(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "chat")
	require.NoError(t, err)

	pm := NewPublisherManager()
	pm.SubscribePublisher("chat", pubSub)

	meta := EventMetadata{GenerationID: "gen-1", ConversationID: "conv-1", Model: "m1"}
	require.NoError(t, pm.Publish(NewFinalEvent(meta, "the reply")))

	select {
	case msg := <-messages:
		msg.Ack()
		e, err := NewEventFromJSON(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, EventTypeFinal, e.Type())
		require.Equal(t, "gen-1", e.Metadata().GenerationID)
		require.Equal(t, "the reply", e.Text)
		require.Equal(t, "0", msg.Metadata.Get("sequence_number"))
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestPublisherManager_SequenceNumbersIncrease(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "chat")
	require.NoError(t, err)

	pm := NewPublisherManager()
	pm.SubscribePublisher("chat", pubSub)

	// gochannel delivers each publish on its own goroutine, so drain one
	// message before publishing the next to observe the stamped order
	meta := EventMetadata{GenerationID: "gen-1"}
	pm.PublishBlind(NewStartEvent(meta))
	first := <-messages
	first.Ack()

	pm.PublishBlind(NewInterruptEvent(meta))
	second := <-messages
	second.Ack()

	require.Equal(t, "0", first.Metadata.Get("sequence_number"))
	require.Equal(t, "1", second.Metadata.Get("sequence_number"))
}

func TestNewEventFromJSON_RejectsUntypedPayload(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{"text":"no type"}`))
	require.Error(t, err)

	_, err = NewEventFromJSON([]byte(`not json`))
	require.Error(t, err)
}
