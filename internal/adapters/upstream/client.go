// Package upstream implements a resilient client over the match-history
// HTTP API: by-sequence-num paging for the collector fronts and a
// recent-match lookup used to bootstrap the checkpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dota2index/internal/core/collector"
	"dota2index/internal/core/mask"
	perr "dota2index/internal/platform/errors"
	"dota2index/internal/platform/logger"
)

const (
	baseURLDefault     = "https://api.steampowered.com"
	pathBySeqNum       = "/IDOTA2Match_570/GetMatchHistoryBySequenceNum/v1"
	pathRecent         = "/IDOTA2Match_570/GetMatchHistory/v1"
	defaultTimeout     = 10 * time.Second
	defaultMaxRetries  = 5
	defaultRetryBase   = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	minPlayersRecent   = 10
	matchesRequestedOK = 100
)

// Options configures a Client
type Options struct {
	APIKey     string
	BaseURL    string
	Proxy      *url.URL
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// Client talks to the upstream match-history API with built-in retry and
// backoff for throttle and transport failures.
type Client struct {
	http *http.Client
	opts Options
	log  *logger.Logger
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}

	transport := &http.Transport{}
	if o.Proxy != nil {
		transport.Proxy = http.ProxyURL(o.Proxy)
	}

	return &Client{
		http: &http.Client{Timeout: o.Timeout, Transport: transport},
		opts: o,
		log:  logger.Named("upstream"),
	}
}

type envelope[T any] struct {
	Result T `json:"result"`
}

type fullResult struct {
	Status  uint8      `json:"status"`
	Matches []rawMatch `json:"matches"`
}

type partialResult struct {
	Status  uint8      `json:"status"`
	Matches []rawMatch `json:"matches"`
}

type rawMatch struct {
	MatchID     uint64      `json:"match_id"`
	MatchSeqNum uint64      `json:"match_seq_num"`
	Players     []rawPlayer `json:"players"`
}

type rawPlayer struct {
	PlayerSlot uint8 `json:"player_slot"`
	HeroID     uint8 `json:"hero_id"`
}

func toMatches(raw []rawMatch) []mask.Match {
	out := make([]mask.Match, 0, len(raw))
	for _, m := range raw {
		players := make([]mask.Player, 0, len(m.Players))
		for _, p := range m.Players {
			players = append(players, mask.Player{PlayerSlot: p.PlayerSlot, HeroID: p.HeroID})
		}
		out = append(out, mask.Match{MatchID: m.MatchID, MatchSeqNum: m.MatchSeqNum, Players: players})
	}
	return out
}

// GetPage fetches one page of up to count matches starting at start,
// decoding the full (schema-strict) response shape.
func (c *Client) GetPage(ctx context.Context, start uint64, count int) (collector.Page, error) {
	q := url.Values{
		"key":                    {c.opts.APIKey},
		"start_at_match_seq_num": {strconv.FormatUint(start, 10)},
		"matches_requested":      {strconv.Itoa(count)},
	}

	body, err := c.doRetry(ctx, pathBySeqNum, q)
	if err != nil {
		return collector.Page{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var env envelope[fullResult]
	if err := dec.Decode(&env); err != nil {
		return collector.Page{}, &perr.DecodeFailure{
			Cause: perr.Decodef("decode full match history: %v", err),
			Raw:   body,
		}
	}

	return collector.Page{Matches: toMatches(env.Result.Matches)}, nil
}

// GetRecent returns the maximum match_seq_num among recently finalized
// matches, used to bootstrap a fresh checkpoint. The response shape is
// tolerant of unknown fields: this endpoint is treated as a partial schema
// whose drift we don't need to detect as aggressively as the paging call.
func (c *Client) GetRecent(ctx context.Context) (uint64, error) {
	q := url.Values{
		"key":               {c.opts.APIKey},
		"min_players":       {strconv.Itoa(minPlayersRecent)},
		"matches_requested": {strconv.Itoa(matchesRequestedOK)},
	}

	body, err := c.doRetry(ctx, pathRecent, q)
	if err != nil {
		return 0, err
	}

	var env envelope[partialResult]
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, &perr.DecodeFailure{
			Cause: perr.Decodef("decode recent match history: %v", err),
			Raw:   body,
		}
	}

	var max uint64
	for _, m := range env.Result.Matches {
		if m.MatchSeqNum > max {
			max = m.MatchSeqNum
		}
	}
	return max, nil
}

// doRetry issues a GET request against path with q, retrying Throttle and
// Transport failures with exponential backoff up to opts.MaxRetries. Any
// other non-200 status is returned immediately without retry.
func (c *Client) doRetry(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.opts.BaseURL + path + "?" + q.Encode()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeTransport, "upstream: context cancelled")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeTransport, "upstream: build request")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt >= c.opts.MaxRetries {
				return nil, perr.Wrapf(err, perr.ErrorCodeTransport, "upstream: request failed")
			}
			back := c.backoff(attempt)
			c.log.Warn().Err(err).Dur("retry_in", back).Int("attempt", attempt).Msg("upstream transport error, retrying")
			c.sleep(ctx, back)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			if attempt >= c.opts.MaxRetries {
				return nil, perr.Wrapf(readErr, perr.ErrorCodeTransport, "upstream: read body failed")
			}
			c.sleep(ctx, c.backoff(attempt))
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return body, nil

		case http.StatusTooManyRequests:
			if attempt >= c.opts.MaxRetries {
				return nil, perr.Throttlef("upstream: rate limited after %d attempts", attempt+1)
			}
			back := c.backoff(attempt)
			c.log.Warn().Dur("retry_in", back).Int("attempt", attempt).Msg("upstream throttled, retrying")
			c.sleep(ctx, back)
			continue

		default:
			return nil, perr.UpstreamOtherf("upstream: unexpected status %d", resp.StatusCode)
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.RetryBase << uint(attempt)
	if d > defaultMaxBackoff {
		d = defaultMaxBackoff
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
