package services

import (
	"github.com/google/uuid"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
)

// HubSender is the sender id of messages originated by the hub itself.
const HubSender = "hub"

// MessagingServiceImpl implements MessagingService
type MessagingServiceImpl struct {
	broker   *server.Broker
	registry *server.NodeRegistry
	senderID string
}

// NewMessagingService creates a new messaging service
func NewMessagingService(broker *server.Broker, registry *server.NodeRegistry, senderID string) MessagingService {
	if senderID == "" {
		senderID = HubSender
	}
	return &MessagingServiceImpl{
		broker:   broker,
		registry: registry,
		senderID: senderID,
	}
}

// SendMessage delivers a message frame straight to the target node
func (ms *MessagingServiceImpl) SendMessage(req MessageRequest) error {
	if err := proto.ValidatePath(req.Path); err != nil {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid message path", Cause: err}
	}
	target, ok := ms.registry.Get(req.NodeID)
	if !ok || !target.Meta().IsIdentified() {
		return ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Node not found: " + req.NodeID,
		}
	}

	msg, err := proto.NewMessage(proto.TypeMessage, proto.MessagePayload{Data: req.Data})
	if err != nil {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Failed to marshal payload", Cause: err}
	}
	msg.ID = uuid.NewString()
	msg.Path = req.Path
	msg.Sender = ms.senderID
	msg.Recipient = req.NodeID

	if err := target.Send(msg); err != nil {
		return ServiceError{Code: ErrCodeUnavailable, Message: "Failed to deliver message", Cause: err}
	}
	return nil
}

// Subscribe subscribes a client to a topic
func (ms *MessagingServiceImpl) Subscribe(topic string, client server.Client) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	ms.broker.Subscribe(topic, client)
	return nil
}

// Unsubscribe unsubscribes a client from a topic
func (ms *MessagingServiceImpl) Unsubscribe(topic string, client server.Client) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	ms.broker.Unsubscribe(topic, client)
	return nil
}

// validateTopic accepts the hub observer topics and capability names
func validateTopic(topic string) error {
	if topic == server.TopicData || topic == server.TopicCapability {
		return nil
	}
	if err := proto.ValidateCapabilityName(topic); err != nil {
		return ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Invalid topic: " + topic,
			Cause:   err,
		}
	}
	return nil
}
