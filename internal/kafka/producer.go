package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
)

type Producer struct {
	producer       sarama.SyncProducer
	heartbeatTopic string
	alertTopic     string
}

func NewProducer(brokers []string, heartbeatTopic, alertTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer:       producer,
		heartbeatTopic: heartbeatTopic,
		alertTopic:     alertTopic,
	}, nil
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat publishes session liveness, keyed by session so all
// heartbeats of one session land on one partition.
func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	return p.send(p.heartbeatTopic, msg.SessionID, msg)
}

// SendAlert publishes a triggered incident for downstream responders.
func (p *Producer) SendAlert(msg models.AlertEvent) error {
	return p.send(p.alertTopic, msg.SessionID, msg)
}

func (p *Producer) send(topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = p.producer.SendMessage(kafkaMsg)
	return err
}
