//go:build !linux

package selector

import "context"

// Epoll is only available on Linux.
type Epoll struct{}

func NewEpoll() (*Epoll, error) {
	return nil, ErrUnsupported
}

func (*Epoll) SetInterest(Selectable, Interest, bool) error { return ErrUnsupported }

func (*Epoll) Select(context.Context, Selectable, Interest) error { return ErrUnsupported }

func (*Epoll) Run(context.Context) error { return ErrUnsupported }

func (*Epoll) Close() error { return nil }
