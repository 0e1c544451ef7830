package token

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loyaltysdk/crypto"
)

// Dial connects to the JSON-RPC endpoint at rawURL and binds a client to
// contractAddress. HTTP endpoints go through an instrumented transport so
// RPC calls appear as child spans of the facade operation. The returned
// client owns the connection and releases it on Close.
func Dial(ctx context.Context, rawURL string, key *crypto.PrivateKey, contractAddress string, opts ...Option) (*Client, error) {
	if err := ValidateAddress("contract", contractAddress); err != nil {
		return nil, err
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("token: rpc url required")
	}
	var dialOpts []rpc.ClientOption
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		dialOpts = append(dialOpts, rpc.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}))
	}
	rpcClient, err := rpc.DialOptions(ctx, rawURL, dialOpts...)
	if err != nil {
		return nil, transportError("dial "+redactURL(rawURL), err)
	}
	backend := ethclient.NewClient(rpcClient)
	client, err := New(ctx, backend, key, contractAddress, append(opts, withBackendCloser(backend.Close))...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return client, nil
}

// redactURL drops credentials and query strings, which commonly carry
// provider API keys.
func redactURL(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		scheme, rest := rawURL[:i+3], rawURL[i+3:]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			rest = rest[at+1:]
		}
		if q := strings.IndexAny(rest, "?#"); q >= 0 {
			rest = rest[:q]
		}
		return scheme + rest
	}
	return rawURL
}
