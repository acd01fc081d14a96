// Package binding connects a Loader to something that displays images.
package binding

import (
	"sync"

	"github.com/marmos91/urlimage/pkg/loader"
)

// View displays an image. SetImage(nil) clears it.
type View interface {
	SetImage(img *loader.Image)
}

// SpinnerView is a View that can show loading progress.
type SpinnerView interface {
	View
	ShowSpinner()
	HideSpinner()
}

// Option configures a Binding.
type Option func(*Binding)

// WithFilter transforms every image before it reaches the view.
func WithFilter(fn func(*loader.Image) *loader.Image) Option {
	return func(b *Binding) { b.filter = fn }
}

// WithSpinner toggles the spinner on views implementing SpinnerView.
// Enabled by default.
func WithSpinner(on bool) Option {
	return func(b *Binding) { b.spinner = on }
}

// Binding owns a Loader on behalf of a View.
type Binding struct {
	view    View
	loader  *loader.Loader
	filter  func(*loader.Image) *loader.Image
	spinner bool

	mu    sync.Mutex
	img   *loader.Image
	unsub []func()
}

// Bind subscribes view to l.
func Bind(view View, l *loader.Loader, opts ...Option) *Binding {
	b := &Binding{view: view, loader: l, spinner: true}
	for _, opt := range opts {
		opt(b)
	}

	b.unsub = append(b.unsub, l.OnImageChanged(func(img *loader.Image) {
		b.mu.Lock()
		b.img = img
		b.mu.Unlock()
		b.Render()
	}))

	if sv, ok := view.(SpinnerView); ok && b.spinner {
		b.unsub = append(b.unsub, l.OnLoadingChanged(func(loading bool) {
			if loading {
				sv.ShowSpinner()
			} else {
				sv.HideSpinner()
			}
		}))
	}
	return b
}

func (b *Binding) Loader() *loader.Loader { return b.loader }

// SetURL points the loader at u.
func (b *Binding) SetURL(u string) { b.loader.SetURL(u) }

func (b *Binding) Cancel() { b.loader.Cancel() }

// Image returns the last unfiltered image received from the loader.
func (b *Binding) Image() *loader.Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.img
}

// Render pushes the held image through the filter to the view.
func (b *Binding) Render() {
	img := b.Image()
	if b.filter != nil {
		img = b.filter(img)
	}
	b.view.SetImage(img)
}

// Close unsubscribes from the loader and cancels its load.
func (b *Binding) Close() {
	b.mu.Lock()
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	b.loader.Cancel()
}
