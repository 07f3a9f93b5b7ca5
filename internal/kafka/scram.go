package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramMechanisms maps a configured mechanism name to the sarama mechanism
// and the hash it negotiates.
var scramMechanisms = map[string]struct {
	mechanism sarama.SASLMechanism
	hashGen   scram.HashGeneratorFcn
}{
	"SCRAM-SHA-256": {mechanism: sarama.SASLTypeSCRAMSHA256, hashGen: scram.SHA256},
	"SCRAM-SHA-512": {mechanism: sarama.SASLTypeSCRAMSHA512, hashGen: scram.SHA512},
}

// scramClient runs one xdg-go/scram client conversation for sarama.
type scramClient struct {
	hashGen scram.HashGeneratorFcn
	conv    *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGen.NewClient(userName, password, authzID)
	if err != nil {
		return fmt.Errorf("failed to create SCRAM client: %w", err)
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv.Done()
}

// configureSCRAM selects the SCRAM variant named by mechanism.
func configureSCRAM(config *sarama.Config, mechanism string) error {
	m, ok := scramMechanisms[mechanism]
	if !ok {
		return fmt.Errorf("unsupported SASL mechanism: %s", mechanism)
	}
	config.Net.SASL.Mechanism = m.mechanism
	config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
		return &scramClient{hashGen: m.hashGen}
	}
	return nil
}
