package mq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDLQQueueName(t *testing.T) {
	assert.Equal(t, "email.received.dlq", DLQQueueName("email.received"))
}

func TestDLQHeaders(t *testing.T) {
	at := time.Date(2026, 3, 9, 17, 30, 0, 0, time.FixedZone("CST", 8*3600))
	h := dlqHeaders("triage.action", "validation: decision id is required", at)

	assert.Equal(t, "validation: decision id is required", h["x-original-error"])
	assert.Equal(t, "triage.action", h["x-original-routing-key"])
	assert.Equal(t, "triage-engine", h["x-failed-at"])
	assert.Equal(t, "2026-03-09T09:30:00Z", h["x-failed-time"])
}
