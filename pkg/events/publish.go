package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes generation lifecycle events to a set of
// watermill publishers. Publishers are subscribed per topic; every published
// event is serialized once and handed to all publishers of all topics,
// stamped with a monotonically increasing sequence number.
//
// Event delivery is best-effort: a failing publisher is logged and skipped,
// it never changes an orchestration outcome.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mu             sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (m *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers[topic] = append(m.publishers[topic], pub)
}

func (m *PublisherManager) Publish(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", m.sequenceNumber))
	m.sequenceNumber++

	for topic, pubs := range m.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind publishes and only logs on failure.
func (m *PublisherManager) PublishBlind(e Event) {
	if err := m.Publish(e); err != nil {
		log.Warn().Err(err).Msg("failed to publish event")
	}
}
