package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorwatch/internal/domain"
)

const testCollection = "POLYGON-0xd8156606d2bf60c12d55f561395d29ba3c5ccc63"

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestRarible(t *testing.T, baseURL string) *Rarible {
	t.Helper()
	coll, err := domain.ParseCollection(testCollection)
	require.NoError(t, err)
	return NewRarible(RaribleOptions{
		BaseURL:     baseURL,
		Collection:  coll,
		Timeout:     time.Second,
		Backoff:     time.Millisecond,
		IPFSGateway: "https://gw.test/ipfs/",
	}, noopLogger())
}

func item(id, rarity string, order map[string]any) map[string]any {
	it := map[string]any{
		"id":         "POLYGON:0xd8156606d2bf60c12d55f561395d29ba3c5ccc63:" + id,
		"blockchain": "POLYGON",
		"tokenId":    id,
		"properties": map[string]any{
			"name": "Wink #" + id,
			"mediaEntries": []map[string]string{
				{"contentType": "IMAGE", "sizeType": "PREVIEW", "url": "https://img.test/" + id + "-preview.png"},
				{"contentType": "IMAGE", "sizeType": "ORIGINAL", "url": "ipfs://bafy" + id},
			},
			"attributes": []map[string]any{{"key": "Rarity", "value": rarity}},
		},
	}
	if order != nil {
		it["bestSellOrder"] = order
	}
	return it
}

func ethOrder(price any) map[string]any {
	return map[string]any{
		"price": price,
		"take":  map[string]any{"assetType": map[string]string{"assetClass": "ETH"}},
	}
}

func TestRaribleSearchDecodesListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/items/search", r.URL.Path)
		assert.Equal(t, "https://og.rarible.com", r.Header.Get("Origin"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "LOW_PRICE_FIRST", req.Filter.Sort)
		assert.Equal(t, []string{"POLYGON-0xd8156606d2bf60c12d55f561395d29ba3c5ccc63"}, req.Filter.Collections)
		assert.Empty(t, req.Filter.Traits)

		wei := item("3", "common", map[string]any{
			"take": map[string]any{
				"assetType": map[string]string{"assetClass": "NATIVE"},
				"value":     "2500000000000000000",
			},
		})
		foreign := item("4", "Epic", ethOrder("1"))
		foreign["id"] = "POLYGON:0x0000000000000000000000000000000000000001:4"

		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				item("1", "Epic", ethOrder("12.5")),
				item("2", "Rare", nil),
				wei,
				foreign,
				item("5", "Mythic", ethOrder(3)),
			},
		})
	}))
	defer srv.Close()

	listings, err := newTestRarible(t, srv.URL).SearchListings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	epic := listings[0]
	assert.Equal(t, "POLYGON:0xd8156606d2bf60c12d55f561395d29ba3c5ccc63:1", epic.ID)
	assert.Equal(t, domain.Epic, epic.Rarity)
	assert.True(t, epic.Price.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "MATIC", epic.Currency)
	assert.Equal(t, "https://gw.test/ipfs/bafy1", epic.ImageURL)
	assert.Equal(t, "https://img.test/1-preview.png", epic.PreviewURL)
	assert.Equal(t, "https://og.rarible.com/token/POLYGON:0xd8156606d2bf60c12d55f561395d29ba3c5ccc63:1", epic.RaribleURL)
	assert.Equal(t, "https://opensea.io/item/polygon/0xd8156606d2bf60c12d55f561395d29ba3c5ccc63/1", epic.OpenSeaURL)

	common := listings[1]
	assert.Equal(t, domain.Common, common.Rarity)
	assert.True(t, common.Price.Equal(decimal.RequireFromString("2.5")), "got %s", common.Price)
}

func TestRaribleSkipsListingsInForeignCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// an ERC20 price of 1 token must not be read as 1 MATIC against the Legendary floor
		weth := item("9", "Legendary", map[string]any{
			"take": map[string]any{
				"assetType": map[string]string{"assetClass": "ERC20", "contract": "POLYGON:0x7ceb23fd6bc0add59e62ac25578270cff1b9f619"},
				"value":     "1",
			},
			"makePrice": "1",
		})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{weth, item("10", "Legendary", ethOrder("900"))},
		})
	}))
	defer srv.Close()

	listings, err := newTestRarible(t, srv.URL).SearchListings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "POLYGON:0xd8156606d2bf60c12d55f561395d29ba3c5ccc63:10", listings[0].ID)
	assert.Equal(t, "MATIC", listings[0].Currency)
}

func TestRaribleSearchFollowsContinuation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch calls.Add(1) {
		case 1:
			assert.Empty(t, req.Continuation)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":        []map[string]any{item("1", "Epic", ethOrder("10"))},
				"continuation": "next-page",
			})
		default:
			assert.Equal(t, "next-page", req.Continuation)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{item("2", "Rare", ethOrder("4"))},
			})
		}
	}))
	defer srv.Close()

	listings, err := newTestRarible(t, srv.URL).SearchListings(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRaribleRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream"}`))
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{item("1", "Epic", ethOrder("10"))})
	}))
	defer srv.Close()

	listings, err := newTestRarible(t, srv.URL).SearchListings(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRaribleGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestRarible(t, srv.URL).SearchListings(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.EqualValues(t, 3, calls.Load())
}

func TestRaribleCheapestByRarity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Filter.Traits, 1)
		assert.Equal(t, "Rarity", req.Filter.Traits[0].Key)
		assert.Equal(t, 1, req.Size)

		if req.Filter.Traits[0].Values[0] == "Legendary" {
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
			return
		}
		it := item("7", "", ethOrder("8"))
		it["properties"].(map[string]any)["attributes"] = []any{}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{it}})
	}))
	defer srv.Close()

	f := newTestRarible(t, srv.URL)

	listings, err := f.CheapestByRarity(context.Background(), domain.Uncommon, 1)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, domain.Uncommon, listings[0].Rarity, "trait filter rarity applies when the item omits it")

	_, err = f.CheapestByRarity(context.Background(), domain.Legendary, 1)
	assert.True(t, errors.Is(err, ErrNoListings))
}

func TestRaribleMetadataFallback(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/meta/9", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":       "Wink #9",
			"image":      "ipfs://bafymeta9",
			"attributes": []map[string]string{{"trait_type": "Rarity", "value": "Legendary"}},
		})
	})
	mux.HandleFunc("/items/search", func(w http.ResponseWriter, r *http.Request) {
		it := map[string]any{
			"id":            "POLYGON:0xd8156606d2bf60c12d55f561395d29ba3c5ccc63:9",
			"blockchain":    "POLYGON",
			"tokenId":       "9",
			"meta":          map[string]any{"metadataUri": srv.URL + "/meta/9"},
			"bestSellOrder": ethOrder("99"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{it}})
	})

	listings, err := newTestRarible(t, srv.URL).SearchListings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, domain.Legendary, listings[0].Rarity)
	assert.Equal(t, "Wink #9", listings[0].Name)
	assert.Equal(t, "https://gw.test/ipfs/bafymeta9", listings[0].ImageURL)
}
