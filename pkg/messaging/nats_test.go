package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectAndStreamName(t *testing.T) {
	assert.Equal(t, "portfolio.refresh.price", Subject("portfolio", "refresh.price"))
	assert.Equal(t, "job.done", Subject("", "job.done"))
	assert.Equal(t, "PORTFOLIO_AGENT_EVENTS", StreamName("portfolio-agent"))
}

func TestEncode(t *testing.T) {
	raw, err := Encode([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), raw)

	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	payload, err := Encode(RefreshEvent{Symbol: "000001.SZ", DataKind: "price", Source: "refresh", Inserted: 2, At: at})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "000001.SZ", decoded["ts_code"])
	assert.EqualValues(t, 2, decoded["inserted"])
	assert.NotContains(t, decoded, "error")

	_, err = Encode(make(chan int))
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish("refresh.price", RefreshEvent{}))
}
