package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	data := []byte("{\"type\":6}\x1e{\"type\":1,\"target\":\"A\",\"arguments\":[]}\x1e")
	frames := Split(data)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"type":6}`, string(frames[0]))

	assert.Empty(t, Split(nil))
	assert.Len(t, Split([]byte("{\"type\":6}")), 1)
	assert.Len(t, Split([]byte("\x1e\x1e{\"type\":6}\x1e")), 1)
}

func TestParse(t *testing.T) {
	msg, err := Parse([]byte(`{"type":1,"target":"TransactionStatus","arguments":["tx-1","{\"TransactionStatusCode\":\"FUE\"}"]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeInvocation, msg.Type)
	assert.Equal(t, "TransactionStatus", msg.Target)
	require.Len(t, msg.Arguments, 2)

	id, err := Decode[string](msg.Arguments[0])
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)

	_, err = Parse([]byte(`{"type":42}`))
	assert.Error(t, err)
	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
	_, err = Parse([]byte(` `))
	assert.Error(t, err)
}

func TestBuildInvocation(t *testing.T) {
	frame, err := BuildInvocation("7", "RegisterForTransactionUpdates", "tx-1")
	require.NoError(t, err)
	require.Equal(t, RecordSeparator, frame[len(frame)-1])

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(frame[:len(frame)-1], &decoded))
	assert.Equal(t, float64(TypeInvocation), decoded["type"])
	assert.Equal(t, "7", decoded["invocationId"])
	assert.Equal(t, []interface{}{"tx-1"}, decoded["arguments"])

	frame, err = BuildInvocation("", "Ping")
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"arguments":[]`)
	assert.NotContains(t, string(frame), "invocationId")
}

func TestHandshake(t *testing.T) {
	frame, err := BuildHandshake()
	require.NoError(t, err)
	assert.Equal(t, "{\"protocol\":\"json\",\"version\":1}\x1e", string(frame))

	assert.NoError(t, ParseHandshakeResponse([]byte("{}\x1e")))
	assert.Error(t, ParseHandshakeResponse([]byte("{\"error\":\"unsupported\"}\x1e")))
	assert.Error(t, ParseHandshakeResponse(nil))
}

func TestCompletionCarriesError(t *testing.T) {
	frame, err := BuildCompletion("1", nil, "boom")
	require.NoError(t, err)
	msg, err := Parse(Split(frame)[0])
	require.NoError(t, err)
	assert.Equal(t, TypeCompletion, msg.Type)
	assert.Equal(t, "boom", msg.Error)
}
