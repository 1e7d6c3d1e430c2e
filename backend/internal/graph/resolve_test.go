package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveThread(t *testing.T) {
	id := int64(7)

	tests := []struct {
		name       string
		threadID   *int64
		topicShift bool
		want       ThreadResolution
	}{
		{"no thread, no shift", nil, false, NewThread},
		{"no thread, shift", nil, true, NewThread},
		{"thread, shift", &id, true, NewThread},
		{"thread, no shift", &id, false, ExistingThread},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveThread(tt.threadID, tt.topicShift))
			// Same inputs, same answer
			assert.Equal(t, ResolveThread(tt.threadID, tt.topicShift), ResolveThread(tt.threadID, tt.topicShift))
		})
	}
}

func TestThreadResolution_String(t *testing.T) {
	assert.Equal(t, "no_thread", NoThread.String())
	assert.Equal(t, "existing_thread", ExistingThread.String())
	assert.Equal(t, "new_thread", NewThread.String())
}
