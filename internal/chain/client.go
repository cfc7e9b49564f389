package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	url       string
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		url:       rpcURL,
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// DialChain tries each URL in order and returns the first client whose
// eth_chainId equals chainID.
func DialChain(ctx context.Context, urls []string, chainID uint64) (*Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no rpc urls for chain %d", chainID)
	}

	var errs []error
	for _, url := range urls {
		client, err := NewClient(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", url, err))
			continue
		}
		got, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			errs = append(errs, fmt.Errorf("chain id %s: %w", url, err))
			continue
		}
		if got != chainID {
			client.Close()
			errs = append(errs, fmt.Errorf("%s serves chain %d, want %d", url, got, chainID))
			continue
		}
		return client, nil
	}
	return nil, errors.Join(errs...)
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// URL returns the endpoint this client is connected to.
func (c *Client) URL() string {
	return c.url
}

// Backend exposes the ethclient for contract bindings. It satisfies
// bind.ContractBackend and bind.DeployBackend.
func (c *Client) Backend() *ethclient.Client {
	return c.ethClient
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// ChainID returns the chain ID as uint64.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.GetChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
