package iso7816

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// maxExchanges bounds the transactions of one logical exchange.
const maxExchanges = 16

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client sends commands to a card and follows the 61XX and 6CXX
// continuations on its own.
type Client struct {
	Card Transmitter
	Log  log.FieldLogger
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card, Log: log.StandardLogger()}
}

func (c *Client) logger() log.FieldLogger {
	if c.Log == nil {
		return log.StandardLogger()
	}
	return c.Log
}

// Send transmits cmd and whatever the card asks for next. The returned
// trace holds every transaction, even when an error ends the exchange.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	var trace Trace
	for {
		resp, err := c.transmit(cmd)
		if err != nil {
			return trace, err
		}
		trace = append(trace, Transaction{Command: cmd, Response: resp})

		next := followUp(cmd, resp.Status)
		if next == nil || len(trace) >= maxExchanges {
			return trace, nil
		}
		cmd = next
	}
}

func (c *Client) transmit(cmd *CommandAPDU) (*ResponseAPDU, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	reply, err := c.Card.Transmit(raw)
	if err != nil {
		c.logger().WithError(err).WithField("command", raw).Debug("transmit failed")
		return nil, fmt.Errorf("transmission error: %w", err)
	}
	c.logger().WithFields(log.Fields{
		"command":  raw,
		"response": reply,
	}).Debug("apdu")

	return ParseResponseAPDU(reply)
}

// followUp returns the command status sw calls for, or nil:
//
//   - 61XX: GET RESPONSE with Le = XX, on the channel of cmd.
//   - 6CXX: cmd again with Le = XX.
func followUp(cmd *CommandAPDU, sw StatusWord) *CommandAPDU {
	switch sw.SW1() {
	case 0x61:
		cla := cmd.Class
		cla.IsChained = false
		ins, _ := NewInstruction(INS_GET_RESPONSE)
		return NewCommandAPDU(cla, ins, 0x00, 0x00, nil, int(sw.SW2()))
	case 0x6C:
		again := *cmd
		again.Ne = int(sw.SW2())
		return &again
	}
	return nil
}
