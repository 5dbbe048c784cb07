package gatehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"github.com/gatehouse-dev/gatehouse/pkg/limiter"
)

var UserAgent = fmt.Sprintf("Gatehouse/%s (https://github.com/gatehouse-dev/gatehouse)", Version)

const restBaseURL = "https://discord.com/api/v10"

// RESTFetchConcurrency bounds in-flight reconciliation fetches. A burst of
// events against a cold cache must not stampede the API.
var RESTFetchConcurrency = 10

// RESTClient fetches raw entity payloads for cache misses during
// reconciliation. Implementations return raw JSON, the caches own
// construction.
type RESTClient interface {
	FetchGuild(ctx context.Context, guildID discord.Snowflake) (json.RawMessage, error)
	FetchChannel(ctx context.Context, channelID discord.Snowflake) (json.RawMessage, error)
	FetchGuildMember(ctx context.Context, guildID, userID discord.Snowflake) (json.RawMessage, error)
	FetchUser(ctx context.Context, userID discord.Snowflake) (json.RawMessage, error)
	FetchMessage(ctx context.Context, channelID, messageID discord.Snowflake) (json.RawMessage, error)
	CreateDM(ctx context.Context, recipientID discord.Snowflake) (json.RawMessage, error)
}

// HTTPRestClient is the default RESTClient backed by the public API.
type HTTPRestClient struct {
	httpClient  *http.Client
	botToken    string
	concurrency *limiter.ConcurrencyLimiter
}

func NewHTTPRestClient(httpClient *http.Client, botToken string) *HTTPRestClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPRestClient{
		httpClient:  httpClient,
		botToken:    botToken,
		concurrency: limiter.NewConcurrencyLimiter(RESTFetchConcurrency),
	}
}

func (c *HTTPRestClient) fetch(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *HTTPRestClient) do(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	c.concurrency.Wait()
	defer c.concurrency.FreeTicket()

	var reqBody io.Reader

	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, restBaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("User-Agent", UserAgent)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", path, resp.StatusCode)
	}

	return body, nil
}

func (c *HTTPRestClient) FetchGuild(ctx context.Context, guildID discord.Snowflake) (json.RawMessage, error) {
	return c.fetch(ctx, fmt.Sprintf("/guilds/%d", guildID))
}

func (c *HTTPRestClient) FetchChannel(ctx context.Context, channelID discord.Snowflake) (json.RawMessage, error) {
	return c.fetch(ctx, fmt.Sprintf("/channels/%d", channelID))
}

func (c *HTTPRestClient) FetchGuildMember(ctx context.Context, guildID, userID discord.Snowflake) (json.RawMessage, error) {
	return c.fetch(ctx, fmt.Sprintf("/guilds/%d/members/%d", guildID, userID))
}

func (c *HTTPRestClient) FetchUser(ctx context.Context, userID discord.Snowflake) (json.RawMessage, error) {
	return c.fetch(ctx, fmt.Sprintf("/users/%d", userID))
}

func (c *HTTPRestClient) FetchMessage(ctx context.Context, channelID, messageID discord.Snowflake) (json.RawMessage, error) {
	return c.fetch(ctx, fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID))
}

func (c *HTTPRestClient) CreateDM(ctx context.Context, recipientID discord.Snowflake) (json.RawMessage, error) {
	payload, err := gatehousejson.Marshal(struct {
		RecipientID discord.Snowflake `json:"recipient_id"`
	}{recipientID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recipient: %w", err)
	}

	return c.do(ctx, http.MethodPost, "/users/@me/channels", payload)
}

// NewProxyClient creates an HTTP client that redirects all requests through
// a specified host. This is useful when using a rate-limit proxy such as
// twilight or nirn.
func NewProxyClient(client http.Client, host url.URL) *http.Client {
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	client.Transport = &proxyTransport{
		host:      host,
		transport: client.Transport,
	}

	return &client
}

type proxyTransport struct {
	host      url.URL
	transport http.RoundTripper
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	proxyReq := req.Clone(req.Context())

	// Set the new host while keeping the original path and query.
	proxyReq.URL.Host = t.host.Host
	proxyReq.URL.Scheme = t.host.Scheme
	proxyReq.Host = t.host.Host

	if !strings.HasPrefix(proxyReq.URL.String(), "/api") {
		proxyReq.URL.Path = "/api/v10" + proxyReq.URL.Path
	}

	proxyReq.Header.Set("User-Agent", UserAgent)

	resp, err := t.transport.RoundTrip(proxyReq)
	if err != nil {
		return nil, fmt.Errorf("failed to round trip: %w", err)
	}

	return resp, nil
}
