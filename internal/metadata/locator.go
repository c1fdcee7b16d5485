package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"token-stream-lab/internal/solana"
)

// ErrNoMetadataAccount is returned when a mint has no Metaplex metadata account.
var ErrNoMetadataAccount = errors.New("no metadata account")

// Locator finds the metadata URI of a mint.
type Locator interface {
	Locate(ctx context.Context, mint string) (string, error)
}

// ChainLocator reads the URI from the mint's Metaplex metadata account.
// Found URIs are remembered; failures are not.
type ChainLocator struct {
	rpc solana.AccountReader

	mu    sync.RWMutex
	found map[string]string
}

// NewChainLocator creates a locator reading accounts through rpc.
func NewChainLocator(rpc solana.AccountReader) *ChainLocator {
	return &ChainLocator{rpc: rpc, found: make(map[string]string)}
}

// Locate derives the metadata PDA of mint, reads it and returns its uri field.
func (c *ChainLocator) Locate(ctx context.Context, mint string) (string, error) {
	c.mu.RLock()
	uri, ok := c.found[mint]
	c.mu.RUnlock()
	if ok {
		return uri, nil
	}

	addr, err := solana.MetadataAddress(mint)
	if err != nil {
		return "", err
	}

	info, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("read metadata account %s: %w", addr, err)
	}
	if info == nil {
		return "", fmt.Errorf("%w: mint %s", ErrNoMetadataAccount, mint)
	}

	meta, err := solana.ParseMetadataAccount(info.Data)
	if err != nil {
		return "", err
	}
	if meta.URI == "" {
		return "", fmt.Errorf("%w: mint %s has an empty uri", ErrNoMetadataAccount, mint)
	}

	c.mu.Lock()
	c.found[mint] = meta.URI
	c.mu.Unlock()
	return meta.URI, nil
}
