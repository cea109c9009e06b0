// Command echoserver is an epoll-driven echo server exercising accept/recv
// (push/pull in the original element's terms): one Core, one listening
// socket, and a single goroutine epoll_wait-ing over every accepted child,
// echoing bytes back as they arrive (§9.1, grounded on original_source/
// elements/app/tcpechoserverepollzc.cc).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/tinyrange/tcpstack/internal/core"
	"github.com/tinyrange/tcpstack/internal/epoll"
	"github.com/tinyrange/tcpstack/internal/fiber"
	"github.com/tinyrange/tcpstack/internal/ingress"
	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/sockfd"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

func main() {
	port := flag.Uint("port", 7, "listen port (7 is the classic echo port)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	drv := nic.NewMemDriver()
	peer := nic.NewMemDriver()
	nic.Connect(drv, peer)

	sys := sockfd.NewSysCounter(4096)
	cfg := ingress.Config{MSS: 1460, RcvWnd: 65535, EnableSACK: true, EnableTS: true, CongVariant: "newreno", Backlog: 16}
	c := core.New(0, 1, [4]byte{10, 0, 0, 1}, drv, sys, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	listenFD, listener, err := c.Socket(os.Getpid())
	if err != nil {
		log.Error("socket", "err", err)
		os.Exit(1)
	}
	if err := c.Bind(listener, [4]byte{10, 0, 0, 1}, uint16(*port)); err != nil {
		log.Error("bind", "err", err)
		os.Exit(1)
	}
	if err := c.Listen(listener, 16); err != nil {
		log.Error("listen", "err", err)
		os.Exit(1)
	}

	epfd, epinst, err := c.EpollCreate()
	if err != nil {
		log.Error("epoll_create", "err", err)
		os.Exit(1)
	}
	defer c.EpollClose(epfd)
	if err := epinst.Ctl(epoll.Add, listener, waitbits.AcqNonEmpty); err != nil {
		log.Error("epoll_ctl(listener)", "err", err)
		os.Exit(1)
	}

	acceptTask := fiber.New()
	listener.Task = acceptTask.Signal
	log.Info("echoserver listening", "fd", listenFD, "port", *port)

	for {
		events, err := epinst.Wait(ctx)
		if err != nil {
			log.Error("epoll_wait", "err", err)
			return
		}
		for _, ev := range events {
			if ev.SockFD == listenFD {
				acceptAll(c, epinst, listener, acceptTask, log)
				continue
			}
			echoOne(c, ev.SockFD, log)
		}
	}
}

func acceptAll(c *core.Core, epinst *epoll.Instance, listener *tcpcb.ConnState, acceptTask *fiber.Task, log *slog.Logger) {
	for {
		child, err := c.Accept(listener, acceptTask, true)
		if err != nil {
			return // EAGAIN: no more pending children
		}
		childTask := fiber.New()
		child.Task = childTask.Signal
		if err := epinst.Ctl(epoll.Add, child, waitbits.RxqNonEmpty|waitbits.FinReceived); err != nil {
			log.Warn("epoll_ctl(child)", "err", err)
			continue
		}
		log.Info("accepted", "fd", child.SockFD)
	}
}

func echoOne(c *core.Core, fd int, log *slog.Logger) {
	conn, ok := c.ConnByFD(fd)
	if !ok {
		return
	}
	task := fiber.New()
	data, err := c.Recv(conn, task, true)
	if err != nil {
		return
	}
	if data == nil {
		_ = c.Close(conn)
		return
	}
	if _, err := c.Send(conn, data); err != nil {
		log.Warn("send", "fd", fd, "err", err)
	}
}
