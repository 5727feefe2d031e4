// Package browser provides the page capability a chat session drives: launch,
// navigate, intercept vendor responses, and operate the chat composer. The
// Driver interface keeps the session logic independent of the engine; the rod
// implementation lives in rod.go.
package browser

import (
	"context"

	"chatdock/internal/classify"
)

// Driver is the capability surface one session owns. Implementations hold at
// most one live page; Close releases it.
type Driver interface {
	// Start launches (or connects) the browser and opens the page.
	Start(ctx context.Context) error

	// Navigate loads the chat entry URL.
	Navigate(ctx context.Context, url string) error

	// Intercept begins streaming classified response exchanges to handler.
	// Handler calls stop when the driver closes.
	Intercept(handler func(classify.Exchange))

	// ClickStartChat presses the vendor's "start chat" control. Failing to
	// find it within the configured timeout is an error.
	ClickStartChat(ctx context.Context) error

	// SendMessage types one message into the chat composer and submits it.
	SendMessage(ctx context.Context, text string) error

	// FillSecureField fills a secure-form input (identified by the vendor's
	// field id) inside the chat frame and submits it.
	FillSecureField(ctx context.Context, fieldID, value string) error

	// Close detaches listeners and releases the page and browser.
	// Best-effort: it returns the first error but always releases.
	Close() error
}
