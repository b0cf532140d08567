package page

import (
	"context"
	"iter"
	"time"
)

// Restoration puts a single node back to a known-good value. Attr is empty
// for text restores. Remove detaches the node instead, for content that
// was never part of the page.
type Restoration struct {
	Target string
	Attr   string
	Value  string
	Remove bool
}

// Tree is the host content tree.
type Tree interface {
	// Ready reports whether the page has finished loading and has rendered
	// content.
	Ready(ctx context.Context) (bool, error)
	// Content returns the serialised document.
	Content(ctx context.Context) (string, error)
	// ElementText returns the text content of the element with the given id.
	ElementText(ctx context.Context, id string) (string, error)
	// Restore rewrites one node. Targets starting with "/" are XPaths;
	// anything else is an element id.
	Restore(ctx context.Context, r Restoration) error
	// Replace swaps the whole document body for content in one operation.
	Replace(ctx context.Context, content string) error
	// Subscribe delivers change batches, in observation order, until the
	// returned cancel function is called or ctx ends. fn is never called
	// from within Subscribe itself.
	Subscribe(ctx context.Context, fn func(iter.Seq[Record])) (cancel func(), err error)
}

// Env is the location and client metadata of the page.
type Env struct {
	URL          string `json:"url"`
	Path         string `json:"path"`
	Title        string `json:"title"`
	Referrer     string `json:"referrer,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
}

// Environment provides the current Env.
type Environment interface {
	Env(ctx context.Context) (Env, error)
}

// Overlay is a full-screen warning.
type Overlay struct {
	Title     string
	Message   string
	Countdown time.Duration // remaining time shown to the user; zero hides it
}

// Surface renders warnings and ends the session.
type Surface interface {
	PresentOverlay(ctx context.Context, o Overlay) error
	// ShowWatermark dispatches the final notification event for the host UI.
	ShowWatermark(ctx context.Context) error
	// Terminate forcibly closes the page.
	Terminate(ctx context.Context) error
}

// Host is everything the engine needs from the page.
type Host interface {
	Tree
	Environment
	Surface
}
