package querycache

import (
	"context"

	"github.com/goliatone/go-query-cache/cache"
)

type fetchInfoContextKey struct{}

// FetchInfo describes the attempt a fetch function is running for.
type FetchInfo struct {
	Key      cache.Key
	Segments []string
	// Seq is the per-key attempt sequence number.
	Seq uint64
	// Attempt is 0 for the first try and counts retries after that.
	Attempt int
}

func withFetchInfo(ctx context.Context, info FetchInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fetchInfoContextKey{}, info)
}

// FetchInfoFrom returns the attempt description attached to a fetch context.
func FetchInfoFrom(ctx context.Context) (FetchInfo, bool) {
	if ctx == nil {
		return FetchInfo{}, false
	}
	info, ok := ctx.Value(fetchInfoContextKey{}).(FetchInfo)
	if ok {
		info.Segments = append([]string(nil), info.Segments...)
	}
	return info, ok
}
