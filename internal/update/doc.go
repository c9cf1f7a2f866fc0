// Package update fetches and caches the multi-channel update manifest.
//
// This package handles:
//   - Running exactly one background manifest fetch per Fetcher
//   - Turning manifest records into Channels with parsed version numbers
//   - Publishing the result atomically so readers never see a partial store
//   - Notifying subscribers once the fetch has completed or failed
//
// The package is designed to be isolated from UI concerns. Transport and
// decoding are injected; the caller decides how to present the result.
//
// Example usage:
//
//	src := manifest.NewHTTPSource(url)
//	fetcher := update.NewFetcher(src,
//	    update.WithRunningVersion(version),
//	    update.WithPreference(config.ActiveChannelPreference{}),
//	)
//	fetcher.Subscribe(func(e update.FetchError) {
//	    // refresh the display
//	})
//	fetcher.StartFetch()
//	...
//	if ch, ok := fetcher.ActiveChannel(); ok {
//	    // show ch.Changelog
//	}
package update
