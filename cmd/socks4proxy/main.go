// Command socks4proxy is a minimal SOCKS4 CONNECT proxy built entirely on
// the stack's socket API, demonstrating accept() on a listening socket
// composed with connect() on a second socket, both homed on the same core
// (§9.1, grounded on original_source/elements/app/socks4proxy.cc).
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"log/slog"
	"os"

	"github.com/tinyrange/tcpstack/internal/core"
	"github.com/tinyrange/tcpstack/internal/fiber"
	"github.com/tinyrange/tcpstack/internal/ingress"
	"github.com/tinyrange/tcpstack/internal/nic"
	"github.com/tinyrange/tcpstack/internal/sockfd"
	"github.com/tinyrange/tcpstack/internal/tcpcb"
	"github.com/tinyrange/tcpstack/internal/waitbits"
)

const (
	socks4VersionByte = 0x04
	socks4CmdConnect  = 0x01
	socks4Granted     = 0x5a
	socks4Rejected    = 0x5b
)

func main() {
	listenPort := flag.Uint("port", 1080, "SOCKS4 listen port")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	drv := nic.NewMemDriver()
	peer := nic.NewMemDriver()
	nic.Connect(drv, peer)

	sys := sockfd.NewSysCounter(4096)
	cfg := ingress.Config{MSS: 1460, RcvWnd: 65535, EnableSACK: true, EnableTS: true, CongVariant: "newreno", Backlog: 32}
	c := core.New(0, 1, [4]byte{10, 0, 0, 1}, drv, sys, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, listener, err := c.Socket(os.Getpid())
	if err != nil {
		log.Error("socket", "err", err)
		os.Exit(1)
	}
	if err := c.Bind(listener, [4]byte{10, 0, 0, 1}, uint16(*listenPort)); err != nil {
		log.Error("bind", "err", err)
		os.Exit(1)
	}
	if err := c.Listen(listener, 32); err != nil {
		log.Error("listen", "err", err)
		os.Exit(1)
	}
	log.Info("socks4proxy listening", "port", *listenPort)

	acceptTask := fiber.New()
	for {
		client, err := c.Accept(listener, acceptTask, false)
		if err != nil {
			log.Error("accept", "err", err)
			continue
		}
		go serveClient(c, client, log)
	}
}

// serveClient reads one SOCKS4 CONNECT request, opens the upstream
// connection on a second socket, replies with grant/reject, then pipes
// bytes between the two sockets until either side closes.
func serveClient(c *core.Core, client *tcpcb.ConnState, log *slog.Logger) {
	clientTask := fiber.New()
	client.Task = clientTask.Signal

	req, dstAddr, dstPort, ok := readRequest(c, client, clientTask)
	if !ok {
		_ = c.Close(client)
		return
	}
	_ = req

	_, upstream, err := c.Socket(client.PID)
	if err != nil {
		log.Warn("upstream socket", "err", err)
		_ = c.Close(client)
		return
	}
	upstreamTask := fiber.New()
	upstream.Task = upstreamTask.Signal

	if err := c.Connect(upstream, dstAddr, dstPort, ingress.Config{
		MSS: 1460, RcvWnd: 65535, EnableSACK: true, EnableTS: true, CongVariant: "newreno",
	}); err != nil {
		log.Warn("connect upstream", "err", err)
		sendReply(c, client, socks4Rejected)
		_ = c.Close(client)
		return
	}
	if err := upstreamTask.WaitEvent(context.Background(), waitbits.ConEstablished, false, func() error { return upstream.Err }); err != nil {
		log.Warn("upstream handshake", "err", err)
		sendReply(c, client, socks4Rejected)
		_ = c.Close(client)
		return
	}

	sendReply(c, client, socks4Granted)

	done := make(chan struct{}, 2)
	go pipe(c, client, upstream, clientTask, done)
	go pipe(c, upstream, client, upstreamTask, done)
	<-done
	<-done
	_ = c.Close(client)
	_ = c.Close(upstream)
}

// readRequest parses a SOCKS4 CONNECT request per RFC 1928's predecessor:
// VN(1) CD(1) DSTPORT(2) DSTIP(4) USERID(variable, NUL-terminated).
func readRequest(c *core.Core, client *tcpcb.ConnState, task *fiber.Task) ([]byte, [4]byte, uint16, bool) {
	var buf []byte
	for len(buf) < 9 {
		chunk, err := c.Recv(client, task, false)
		if err != nil || chunk == nil {
			return nil, [4]byte{}, 0, false
		}
		buf = append(buf, chunk...)
	}
	if buf[0] != socks4VersionByte || buf[1] != socks4CmdConnect {
		return nil, [4]byte{}, 0, false
	}
	port := binary.BigEndian.Uint16(buf[2:4])
	var addr [4]byte
	copy(addr[:], buf[4:8])
	return buf, addr, port, true
}

func sendReply(c *core.Core, client *tcpcb.ConnState, code byte) {
	reply := []byte{0x00, code, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, _ = c.Send(client, reply)
}

// pipe copies bytes from src to dst until src's peer closes (recv returns
// io.EOF-shaped nil,nil), signaling done exactly once regardless of outcome.
func pipe(c *core.Core, src, dst *tcpcb.ConnState, task *fiber.Task, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		data, err := c.Recv(src, task, false)
		if err != nil {
			return
		}
		if data == nil {
			return
		}
		if _, err := c.Send(dst, data); err != nil {
			return
		}
	}
}
