package attestation

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the AMQP consumer needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AttestationMessage is the JSON body published for each attestation.
type AttestationMessage struct {
	Consumer string `json:"consumer"`
	Kid      string `json:"kid"`
	From     string `json:"from"`
	Data     string `json:"data"`
	Iat      uint64 `json:"iat"`
}

// NewAttestationMessage renders a as its wire message.
func NewAttestationMessage(a Attestation) AttestationMessage {
	return AttestationMessage{
		Consumer: a.Consumer.Hex(),
		Kid:      a.Kid.Hex(),
		From:     a.From.Hex(),
		Data:     hexutil.Encode(a.Data),
		Iat:      a.Iat,
	}
}

// AMQPConsumer is a Consumer that forwards attestations to an exchange, for
// downstream services that act on them off-chain.
type AMQPConsumer struct {
	publisher  Publisher
	exchange   string
	routingKey string
}

func NewAMQPConsumer(publisher Publisher, exchange, routingKey string) *AMQPConsumer {
	return &AMQPConsumer{publisher: publisher, exchange: exchange, routingKey: routingKey}
}

func (c *AMQPConsumer) Consume(ctx context.Context, a Attestation) error {
	body, err := json.Marshal(NewAttestationMessage(a))
	if err != nil {
		return errors.Wrap(err, "marshal attestation")
	}
	err = c.publisher.PublishWithContext(ctx, c.exchange, c.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
		Type:         "attestation",
	})
	return errors.Wrapf(err, "publish attestation for %s", a.Consumer.Hex())
}

// AMQPConnection owns a broker connection and a channel with the
// attestation exchange declared.
type AMQPConnection struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// DialAMQP connects to url and declares a durable direct exchange.
func DialAMQP(url, exchange string) (*AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &AMQPConnection{Conn: conn, Channel: ch}, nil
}

func (c *AMQPConnection) Close() error {
	if err := c.Channel.Close(); err != nil {
		c.Conn.Close()
		return err
	}
	return c.Conn.Close()
}

// RegisterAMQP binds consumer address addr to an AMQPConsumer in set.
func RegisterAMQP(set ConsumerMap, addr common.Address, publisher Publisher, exchange, routingKey string) {
	set[addr] = NewAMQPConsumer(publisher, exchange, routingKey)
}
