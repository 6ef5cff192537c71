package mq

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTaskMessage(t *testing.T) {
	msg := TaskMessage{TaskID: uuid.New(), RunID: uuid.New(), Name: "fetch", Type: "http"}
	body, err := msg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"taskId"`)

	got, err := DecodeTaskMessage(body)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecodeTaskMessage_Malformed(t *testing.T) {
	bodies := map[string]string{
		"not json":     `{{`,
		"missing ids":  `{"name":"a","type":"echo"}`,
		"missing run":  `{"taskId":"` + uuid.NewString() + `"}`,
		"bad uuid":     `{"taskId":"nope","runId":"nope"}`,
		"empty object": `{}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTaskMessage([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestRedeliveryCount(t *testing.T) {
	assert.Equal(t, 0, redeliveryCount(nil))
	assert.Equal(t, 3, redeliveryCount(map[string]any{HeaderRedeliveryCount: int32(3)}))
	assert.Equal(t, 4, redeliveryCount(map[string]any{HeaderRedeliveryCount: int64(4)}))
	assert.Equal(t, 0, redeliveryCount(map[string]any{HeaderRedeliveryCount: "x"}))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ack", OutcomeAck.String())
	assert.Equal(t, "requeue", OutcomeRequeue.String())
	assert.Equal(t, "reject", OutcomeReject.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
