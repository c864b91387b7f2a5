package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("GATEWAY_CURRENCY", "")
	t.Setenv("DELIVERY_ESTIMATE", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("GATEWAY_TIMEOUT", "")
	c := Load()
	assert.Equal(t, ":8081", c.HTTPAddr)
	assert.Equal(t, "INR", c.GatewayCurrency)
	assert.Equal(t, 10*time.Second, c.GatewayTimeout)
	assert.Equal(t, 7*24*time.Hour, c.DeliveryEstimate)
	assert.Empty(t, c.KafkaBrokers)
	assert.False(t, c.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("GATEWAY_MAX_RETRIES", "oops")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	c := Load()
	assert.True(t, c.Production())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 3*time.Second, c.GatewayTimeout)
	assert.Equal(t, 2, c.GatewayMaxRetries)
	assert.Equal(t, 2.5, c.RateLimitRPS)
}

func TestValidate(t *testing.T) {
	c := Config{Store: "memory"}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_KEY_SECRET")
	assert.Contains(t, err.Error(), "GATEWAY_KEY_ID")

	c = Config{Store: "sqlite", GatewayKeyID: "k", GatewayKeySecret: "s"}
	assert.ErrorContains(t, c.Validate(), "STORE")

	c.Store = "postgres"
	assert.ErrorContains(t, c.Validate(), "POSTGRES_DSN")
	c.PostgresDSN = "postgres://localhost/orders"
	assert.NoError(t, c.Validate())
}
