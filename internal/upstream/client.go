// Package upstream implements the batch-oriented HTTP client for the
// expensive pricing oracle (spec.md C3). Its request framing follows
// theakinwande-url-shortener's net/http + encoding/json client style; it
// never returns an error to the caller — any transport, decoding or
// non-success response is logged and treated as an empty result, per
// spec.md §4.3 and §7 (TransportError is swallowed at this boundary).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Tuple identifies a single room-rate request.
type Tuple struct {
	Period string
	Hotel  string
	Room   string
}

// RateMap is the nested period -> hotel -> room -> rate mapping returned by
// FetchBatch. Absent tuples are simply missing from the map, never present
// with a null/empty value.
type RateMap map[string]map[string]map[string]string

// Get looks up t in m, reporting whether the tuple was present.
func (m RateMap) Get(t Tuple) (string, bool) {
	byHotel, ok := m[t.Period]
	if !ok {
		return "", false
	}
	byRoom, ok := byHotel[t.Hotel]
	if !ok {
		return "", false
	}
	rate, ok := byRoom[t.Room]
	return rate, ok
}

// put records rate for t, used while decoding the wire response.
func (m RateMap) put(t Tuple, rate string) {
	byHotel, ok := m[t.Period]
	if !ok {
		byHotel = make(map[string]map[string]string)
		m[t.Period] = byHotel
	}
	byRoom, ok := byHotel[t.Hotel]
	if !ok {
		byRoom = make(map[string]string)
		byHotel[t.Hotel] = byRoom
	}
	byRoom[t.Room] = rate
}

type attributeWire struct {
	Period string `json:"period"`
	Hotel  string `json:"hotel"`
	Room   string `json:"room"`
}

type requestWire struct {
	Attributes []attributeWire `json:"attributes"`
}

type rateWire struct {
	Period string `json:"period"`
	Hotel  string `json:"hotel"`
	Room   string `json:"room"`
	Rate   string `json:"rate"`
}

type responseWire struct {
	Rates []rateWire `json:"rates"`
}

// Client is a batch-oriented client over the upstream pricing oracle.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client targeting baseURL, authenticating with token, with
// calls bounded by timeout (spec.md §5: default 30s, strictly less than the
// lock TTL).
func New(baseURL string, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchBatch requests rates for every tuple in requests in one upstream
// call. It never returns an error: on any transport, decoding, or
// non-success status it logs and returns an empty RateMap, so callers can
// treat "upstream is down" and "upstream had nothing to say" uniformly.
func (c *Client) FetchBatch(ctx context.Context, requests []Tuple) RateMap {
	empty := RateMap{}
	if len(requests) == 0 {
		return empty
	}

	body := requestWire{Attributes: make([]attributeWire, 0, len(requests))}
	for _, t := range requests {
		body.Attributes = append(body.Attributes, attributeWire{
			Period: t.Period, Hotel: t.Hotel, Room: t.Room,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("upstream: encode request")
		return empty
	}

	url := c.baseURL + "/pricing"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("upstream: build request")
		return empty
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RateAPI-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("upstream: request failed")
		return empty
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("upstream: non-success response")
		return empty
	}

	var wire responseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		log.Warn().Err(err).Msg("upstream: decode response")
		return empty
	}

	out := RateMap{}
	for _, r := range wire.Rates {
		out.put(Tuple{Period: r.Period, Hotel: r.Hotel, Room: r.Room}, r.Rate)
	}
	return out
}

// FetchSingle fetches the rate for exactly one tuple, implemented as a
// one-element FetchBatch call plus a nested lookup — this uniformity is
// what lets C4 treat every upstream call identically, per spec.md §4.3.
func (c *Client) FetchSingle(ctx context.Context, t Tuple) (string, bool) {
	rates := c.FetchBatch(ctx, []Tuple{t})
	return rates.Get(t)
}
