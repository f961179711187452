package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// PendingUnitsMethod is the JSON-RPC method that quotes a holder's
// unharvested units. Params: [contractId, address]; result: hex quantity.
const PendingUnitsMethod = "energy_pendingUnits"

// ClientInterface defines the interface for quote RPC operations
type ClientInterface interface {
	PendingUnits(ctx context.Context, contractID, address string) (uint64, error)
}

type Client struct {
	eth *rpc.Client
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

func NewClient(ctx context.Context, url string) (*Client, error) {
	eth, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Client{eth: eth}, nil
}

// PendingUnits returns the units accrued by address since its last harvest.
// It is a read-only call.
func (c *Client) PendingUnits(ctx context.Context, contractID, address string) (uint64, error) {
	var result hexutil.Uint64
	if err := c.eth.CallContext(ctx, &result, PendingUnitsMethod, contractID, address); err != nil {
		return 0, fmt.Errorf("pending units quote for %s on %s: %w", address, contractID, err)
	}
	return uint64(result), nil
}

func (c *Client) Close() {
	c.eth.Close()
}
