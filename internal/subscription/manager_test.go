package subscription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

func TestReconnectDelaySchedule(t *testing.T) {
	base := 5 * time.Second
	max := 60 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 7500 * time.Millisecond},
		{2, 11250 * time.Millisecond},
		{6, time.Duration(float64(base) * 11.390625)},
		{10, max}, // 5s * 1.5^10 is about 288s, capped
		{50, max},
	}

	for _, tc := range cases {
		got := ReconnectDelay(tc.attempt, base, max)
		assert.Equal(t, tc.want, got, "attempt %d", tc.attempt)
		assert.LessOrEqual(t, got, max)
	}
}

func TestBatchAddresses(t *testing.T) {
	addrs := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		addrs = append(addrs, string(rune('a'+i%26)))
	}

	batches := BatchAddresses(addrs, 50)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[1], 50)
	assert.Len(t, batches[2], 20)

	// Small lists stay whole.
	assert.Len(t, BatchAddresses(addrs[:10], 50), 1)
	// Non-positive size means no batching.
	assert.Len(t, BatchAddresses(addrs, 0), 1)
}

func TestNewSubscribeRequestShape(t *testing.T) {
	req := newSubscribeRequest(7, []string{"addr1", "addr2"})
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded["jsonrpc"])
	assert.Equal(t, "transactionSubscribe", decoded["method"])

	params := decoded["params"].([]interface{})
	require.Len(t, params, 2)

	filter := params[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"addr1", "addr2"}, filter["accountInclude"])

	opts := params[1].(map[string]interface{})
	assert.Equal(t, "finalized", opts["commitment"])
	assert.Equal(t, "jsonParsed", opts["encoding"])
	assert.Equal(t, "full", opts["transactionDetails"])
	assert.Equal(t, false, opts["showRewards"])
	assert.Equal(t, float64(0), opts["maxSupportedTransactionVersion"])
}

type captureSink struct {
	notifs []domain.RawTxNotification
}

func (c *captureSink) Enqueue(_ context.Context, n domain.RawTxNotification) error {
	c.notifs = append(c.notifs, n)
	return nil
}

func notificationFrame(t *testing.T, sig, account string, failed bool) []byte {
	t.Helper()

	var txErr interface{}
	if failed {
		txErr = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	}

	frame := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "transactionNotification",
		"params": map[string]interface{}{
			"subscription": 1,
			"result": map[string]interface{}{
				"signature": sig,
				"slot":      100,
				"transaction": map[string]interface{}{
					"transaction": map[string]interface{}{
						"message": map[string]interface{}{
							"accountKeys": []map[string]interface{}{
								{"pubkey": account, "signer": true},
							},
						},
					},
					"meta": map[string]interface{}{
						"err": txErr,
						"fee": 5000,
					},
					"blockTime": 1724371200,
				},
			},
		},
	}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	return data
}

func newTestManager(sink Sink, accounts ...string) *Manager {
	tracked := make([]domain.TrackedAccount, 0, len(accounts))
	for _, a := range accounts {
		tracked = append(tracked, domain.TrackedAccount{Address: a, Kind: domain.KindWhale})
	}
	return NewManager(Options{URL: "wss://example.invalid"}, domain.NewAccountSet(tracked), sink, zap.NewNop())
}

func TestHandleMessageEnqueuesMatched(t *testing.T) {
	sink := &captureSink{}
	m := newTestManager(sink, "tracked-account")

	m.handleMessage(context.Background(), notificationFrame(t, "sig-1", "tracked-account", false))

	require.Len(t, sink.notifs, 1)
	assert.Equal(t, "sig-1", sink.notifs[0].Signature)
	assert.Equal(t, "tracked-account", sink.notifs[0].Account)
	assert.Equal(t, domain.KindWhale, sink.notifs[0].Kind)
	assert.NotEmpty(t, sink.notifs[0].RawTx)
	assert.Equal(t, int64(1), m.NotificationCount())
}

func TestHandleMessageDropsFailedTx(t *testing.T) {
	sink := &captureSink{}
	m := newTestManager(sink, "tracked-account")

	m.handleMessage(context.Background(), notificationFrame(t, "sig-err", "tracked-account", true))
	assert.Empty(t, sink.notifs)
}

func TestHandleMessageDropsUntracked(t *testing.T) {
	sink := &captureSink{}
	m := newTestManager(sink, "tracked-account")

	m.handleMessage(context.Background(), notificationFrame(t, "sig-2", "someone-else", false))
	assert.Empty(t, sink.notifs)
}

func TestHandleMessageIgnoresAck(t *testing.T) {
	sink := &captureSink{}
	m := newTestManager(sink, "tracked-account")

	m.handleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","result":4021,"id":1}`))
	assert.Empty(t, sink.notifs)
	assert.Equal(t, int64(0), m.NotificationCount())
}

func TestHandleMessageSurvivesGarbage(t *testing.T) {
	sink := &captureSink{}
	m := newTestManager(sink, "tracked-account")

	m.handleMessage(context.Background(), []byte(`{not json`))
	m.handleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"transactionNotification","params":"bogus"}`))
	assert.Empty(t, sink.notifs)
}
