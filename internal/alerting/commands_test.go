package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorwatch/internal/detector"
	"floorwatch/internal/domain"
	"floorwatch/internal/storage/memory"
)

func TestParseSetArgs(t *testing.T) {
	cases := []struct {
		args   string
		rarity domain.Rarity
		pct    string
		reply  string
	}{
		{args: "Epic, 30", rarity: domain.Epic, pct: "30"},
		{args: "legendary 12.5", rarity: domain.Legendary, pct: "12.5"},
		{args: "Rare,40%", rarity: domain.Rare, pct: "40"},
		{args: "", reply: usageSet},
		{args: "Epic", reply: usageSet},
		{args: "Mythic, 30", reply: replyBadRarity},
		{args: "Epic, 0", reply: replyBadPercent},
		{args: "Epic, 101", reply: replyBadPercent},
		{args: "Epic, lots", reply: replyBadPercent},
	}
	for _, tc := range cases {
		t.Run(tc.args, func(t *testing.T) {
			r, pct, reply := parseSetArgs(tc.args)
			assert.Equal(t, tc.reply, reply)
			if tc.reply == "" {
				assert.Equal(t, tc.rarity, r)
				assert.True(t, pct.Equal(decimal.RequireFromString(tc.pct)))
			}
		})
	}
}

func TestSplitCommand(t *testing.T) {
	cmd, args := splitCommand("/set@floor_bot Epic, 30")
	assert.Equal(t, "/set", cmd)
	assert.Equal(t, "Epic, 30", args)

	cmd, args = splitCommand("  /CURRENT ")
	assert.Equal(t, "/current", cmd)
	assert.Empty(t, args)
}

func TestExecuteSetAndCurrent(t *testing.T) {
	thresholds := detector.NewThresholds(decimal.NewFromInt(50), memory.NewStore())
	l := NewCommandListener("token", "-100123", "", thresholds, zerolog.Nop())

	reply := l.Execute(context.Background(), "/set", "Epic, 30")
	assert.Equal(t, "Threshold updated for Epic: 30.00%", reply)
	assert.True(t, thresholds.DiscountPct(domain.Epic).Equal(decimal.NewFromInt(30)))

	current := l.Execute(context.Background(), "/current", "")
	lines := strings.Split(current, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "🟨 Legendary -> 50.00%", lines[0])
	assert.Equal(t, "🟪 Epic -> 30.00%", lines[1])
}

func TestPollOnceRepliesOnlyToConfiguredChat(t *testing.T) {
	var (
		mu      sync.Mutex
		replies = map[string]string{}
		offsets []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			mu.Lock()
			offsets = append(offsets, r.URL.Query().Get("offset"))
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"result": []map[string]any{
					{"update_id": 10, "channel_post": map[string]any{"text": "/set Rare, 25", "chat": map[string]any{"id": -100123}}},
					{"update_id": 11, "message": map[string]any{"text": "/current", "chat": map[string]any{"id": 555}}},
					{"update_id": 12, "message": map[string]any{"text": "hello", "chat": map[string]any{"id": -100123}}},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			mu.Lock()
			replies[payload["chat_id"].(string)] = payload["text"].(string)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	defer srv.Close()

	thresholds := detector.NewThresholds(decimal.NewFromInt(50), nil)
	l := NewCommandListener("token", "-100123", srv.URL, thresholds, zerolog.Nop())
	l.pollWait = 0

	require.NoError(t, l.PollOnce(context.Background()))
	require.NoError(t, l.PollOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Threshold updated for Rare: 25.00%", replies["-100123"])
	assert.Equal(t, replyWrongChat, replies["555"])
	assert.Equal(t, []string{"0", "13"}, offsets)
	assert.True(t, thresholds.DiscountPct(domain.Rare).Equal(decimal.NewFromInt(25)))
}
