// ABOUTME: Resolves media referenced by ID into bytes
// ABOUTME: Delegates to a downloader such as the WhatsApp client

package media

import "context"

// Downloader fetches media by provider ID.
type Downloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Fetcher turns a media ID into bytes. A Fetcher without a downloader, or
// asked for an empty ID, returns nil, nil.
type Fetcher struct {
	d Downloader
}

// NewFetcher creates a Fetcher. d may be nil.
func NewFetcher(d Downloader) *Fetcher {
	return &Fetcher{d: d}
}

// Fetch downloads the media.
func (f *Fetcher) Fetch(ctx context.Context, mediaID string) ([]byte, error) {
	if f == nil || f.d == nil || mediaID == "" {
		return nil, nil
	}
	data, _, err := f.d.DownloadMedia(ctx, mediaID)
	return data, err
}
