package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBucket(t *testing.T) {
	assert.Equal(t, 202401, CalculateBucket(time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, 202412, CalculateBucket(time.Date(2024, time.December, 31, 23, 59, 59, 0, time.UTC)))

	// Buckets are computed in UTC regardless of the input location.
	loc := time.FixedZone("UTC+14", 14*3600)
	assert.Equal(t, 202401, CalculateBucket(time.Date(2024, time.February, 1, 10, 0, 0, 0, loc)))
}

func TestValidMessageStatus(t *testing.T) {
	assert.True(t, ValidMessageStatus(MessageStatusDelivered))
	assert.True(t, ValidMessageStatus(MessageStatusSeen))
	assert.False(t, ValidMessageStatus("read"))
	assert.False(t, ValidMessageStatus(""))
}
