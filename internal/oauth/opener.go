package oauth

import (
	"io"

	"github.com/pkg/browser"
)

// Opener shows the authorization page to the user.
type Opener interface {
	Open(url string) error
}

// BrowserOpener opens URLs in the system browser.
type BrowserOpener struct{}

// Open launches the default browser at url.
func (BrowserOpener) Open(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return browser.OpenURL(url)
}

// FakeOpener records opened URLs.
type FakeOpener struct {
	URLs []string
	Err  error
}

// Open records url and returns Err.
func (f *FakeOpener) Open(url string) error {
	f.URLs = append(f.URLs, url)
	return f.Err
}
