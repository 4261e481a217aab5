package transport

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

var log = logging.Logger("blockspace/transport")

// PubSubSession is a Session backed by a libp2p-pubsub topic: Outbound
// publishes to the topic, Inbound reads from the topic's subscription.
// Grounded on the teacher's PubSubBroadcaster.
type PubSubSession struct {
	selfID       string
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
}

// NewPubSubSession wraps an already-joined topic and subscription. selfID
// is this host's libp2p peer ID, used to filter out a peer's own published
// messages when they're echoed back by the pubsub router.
func NewPubSubSession(selfID string, topic *pubsub.Topic, subscription *pubsub.Subscription) *PubSubSession {
	return &PubSubSession{selfID: selfID, topic: topic, subscription: subscription}
}

func (s *PubSubSession) Outbound(ctx context.Context, frame []byte) error {
	if err := s.topic.Publish(ctx, frame); err != nil {
		log.Warnf("publish to topic %s failed: %v", s.topic.String(), err)
		return err
	}
	return nil
}

// Inbound returns the next frame from a different peer, skipping over any
// message this host published itself.
func (s *PubSubSession) Inbound(ctx context.Context) ([]byte, error) {
	for {
		msg, err := s.subscription.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.ReceivedFrom.String() == s.selfID {
			continue
		}
		return msg.Data, nil
	}
}

func (s *PubSubSession) Close() error {
	s.subscription.Cancel()
	return s.topic.Close()
}
