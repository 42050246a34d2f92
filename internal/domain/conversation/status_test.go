package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPendingUpload: {StatusSending, StatusFailed},
		StatusSending:       {StatusSent, StatusDelivered, StatusFailed},
		StatusSent:          {StatusDelivered},
		StatusDelivered:     {},
		StatusFailed:        {},
	}
	all := []Status{StatusPendingUpload, StatusSending, StatusSent, StatusDelivered, StatusFailed}

	for from, targets := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range targets {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusDelivered, NormalizeStatus("read", StatusSent))
	assert.Equal(t, StatusDelivered, NormalizeStatus("seen", StatusSent))
	assert.Equal(t, StatusSending, NormalizeStatus("pending", StatusSent))
	assert.Equal(t, StatusFailed, NormalizeStatus("failed", StatusSent))
	assert.Equal(t, StatusSent, NormalizeStatus("", StatusSent))
	assert.Equal(t, StatusSent, NormalizeStatus("archived", StatusSent))
}
