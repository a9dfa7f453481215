//go:build !linux

package ws

import (
	"errors"
	"net"
	"time"
)

// Epoll is unavailable off Linux. NewEpoll always fails and the server
// reads each connection from its own goroutine instead.
type Epoll struct{}

var errEpollUnsupported = errors.New("ws: epoll not supported on this platform")

func NewEpoll() (*Epoll, error) { return nil, errEpollUnsupported }

func (e *Epoll) Add(int) error                     { return errEpollUnsupported }
func (e *Epoll) Remove(int) error                  { return nil }
func (e *Epoll) Wait(time.Duration) ([]int, error) { return nil, errEpollUnsupported }
func (e *Epoll) Close() error                      { return nil }

func socketFD(net.Conn) int { return -1 }
