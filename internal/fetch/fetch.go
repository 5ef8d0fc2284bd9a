// Package fetch turns a source address into a document body. Two strategies
// implement the same contract: a direct HTTP fetcher and an overlay fetcher
// that goes through the local overlay-network gateway. Retry-across-cycles is
// the scheduler's job; only the overlay fetcher retries internally (its
// gateway needs warm-up time).
package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/acescout/acescout/internal/catalog"
)

// Fetcher retrieves the document behind a source address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (string, error)
}

// Error is the failure type for both fetch strategies: network error,
// timeout, non-2xx status or exhausted overlay retries.
type Error struct {
	Address string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dispatcher holds one fetcher per source kind and picks by the closed
// SourceKind variant.
type Dispatcher struct {
	Direct  Fetcher
	Overlay Fetcher
}

// ForSource returns the fetcher for the source's kind. Unknown kinds fall
// back to the direct fetcher.
func (d Dispatcher) ForSource(src catalog.Source) Fetcher {
	if src.Kind == catalog.SourceOverlay {
		return d.Overlay
	}
	return d.Direct
}

// KindOf classifies a bare address by form: zero:// scheme or a gateway-port
// URL means overlay, everything else direct. Used for links discovered inside
// pages, which carry no source record of their own.
func KindOf(address string) catalog.SourceKind {
	if strings.HasPrefix(address, "zero://") || strings.Contains(address, overlayPort) {
		return catalog.SourceOverlay
	}
	return catalog.SourceDirect
}
