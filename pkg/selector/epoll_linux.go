//go:build linux

package selector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

var _ Selector = (*Epoll)(nil)

var allInterests = [...]Interest{InterestRead, InterestWrite}

type watch struct {
	ready map[Interest]chan struct{}
	armed Interest
	fired Interest
}

func (w *watch) pending() Interest {
	return w.armed &^ w.fired
}

// Epoll is an epoll(7) backed Selector. Every registration is one-shot
// (EPOLLONESHOT) so a level-triggered writable socket wakes a waiter once
// per arm instead of spinning the poll loop.
type Epoll struct {
	log         *zap.SugaredLogger
	watches     map[int32]*watch
	done        chan struct{}
	epfd        int
	wakefd      int
	mu          sync.Mutex
	releaseOnce sync.Once
	running     bool
	closed      bool
	released    bool
}

func NewEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)} //nolint:gosec
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}

	return &Epoll{
		log:     zap.S().Named("selector"),
		watches: make(map[int32]*watch),
		done:    make(chan struct{}),
		epfd:    epfd,
		wakefd:  wakefd,
	}, nil
}

func (e *Epoll) SetInterest(s Selectable, in Interest, enabled bool) error {
	fd := int32(s.FD()) //nolint:gosec

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		if enabled {
			return ErrClosed
		}
		return nil
	}

	w, ok := e.watches[fd]
	if enabled {
		if !ok {
			w = &watch{ready: make(map[Interest]chan struct{})}
		}
		for _, bit := range allInterests {
			if in&bit != 0 {
				w.ready[bit] = make(chan struct{})
			}
		}
		w.armed |= in
		w.fired &^= in

		if err := e.ctlLocked(fd, w.pending(), ok); err != nil {
			w.armed &^= in
			return err
		}
		e.watches[fd] = w
		return nil
	}

	if !ok {
		return nil
	}
	w.armed &^= in
	w.fired &^= in
	for _, bit := range allInterests {
		if in&bit != 0 {
			delete(w.ready, bit)
		}
	}

	if w.armed != 0 {
		return e.ctlLocked(fd, w.pending(), true)
	}

	delete(e.watches, fd)
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	// The kernel drops closed descriptors from the interest list on its own.
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Select waits on a single interest bit.
func (e *Epoll) Select(ctx context.Context, s Selectable, in Interest) error {
	fd := int32(s.FD()) //nolint:gosec

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var ready chan struct{}
	if w, ok := e.watches[fd]; ok {
		ready = w.ready[in]
	}
	e.mu.Unlock()

	if ready == nil {
		return ErrNotArmed
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// Run polls until ctx ends or the selector is closed. Cancelling ctx closes
// the selector.
func (e *Epoll) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.running {
		e.mu.Unlock()
		return errors.New("selector already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		closed := e.closed
		e.mu.Unlock()
		if closed {
			e.release()
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = e.Close() })
	defer stop()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(e.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		for i := range n {
			if int(events[i].Fd) == e.wakefd {
				e.drainWake()
				continue
			}
			e.dispatch(events[i])
		}

		select {
		case <-e.done:
			return nil
		default:
		}
	}
}

func (e *Epoll) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)
	e.watches = make(map[int32]*watch)
	running := e.running
	if running {
		e.wakeLocked()
	}
	e.mu.Unlock()

	if !running {
		e.release()
	}
	return nil
}

func (e *Epoll) dispatch(ev unix.EpollEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.watches[ev.Fd]
	if !ok {
		return
	}

	failed := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
	var fired Interest
	if failed || ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		fired |= InterestRead
	}
	if failed || ev.Events&unix.EPOLLOUT != 0 {
		fired |= InterestWrite
	}
	fired &= w.pending()

	for _, bit := range allInterests {
		if fired&bit != 0 {
			close(w.ready[bit])
		}
	}
	w.fired |= fired

	// One-shot disabled the descriptor; re-arm whatever is still waiting.
	if pending := w.pending(); pending != 0 {
		if err := e.ctlLocked(ev.Fd, pending, true); err != nil {
			e.log.Debugw("re-arm failed", "fd", ev.Fd, "interest", pending, "err", err)
		}
	}
}

func (e *Epoll) ctlLocked(fd int32, in Interest, registered bool) error {
	ev := unix.EpollEvent{Events: unix.EPOLLONESHOT, Fd: fd}
	if in&InterestRead != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&InterestWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}

	if registered {
		err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev)
		if !errors.Is(err, unix.ENOENT) {
			if err != nil {
				return fmt.Errorf("epoll ctl mod: %w", err)
			}
			return nil
		}
	}

	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (e *Epoll) wakeLocked() {
	if e.released {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(e.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		e.log.Debugw("wake failed", "err", err)
	}
}

func (e *Epoll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(e.wakefd, buf[:])
}

func (e *Epoll) release() {
	e.releaseOnce.Do(func() {
		e.mu.Lock()
		e.released = true
		e.mu.Unlock()
		_ = unix.Close(e.wakefd)
		_ = unix.Close(e.epfd)
	})
}
