package telemetry

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server serves a handler over QUIC.
type HTTP3Server struct {
	srv   *http3.Server
	pc    net.PacketConn
	addr  string
	close func() error
}

// NewHTTP3Server creates a server bound to addr with the given TLS config and handler.
func NewHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) *HTTP3Server {
	return &HTTP3Server{srv: &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: h}, addr: addr}
}

// Start listens on UDP and serves in the background. It returns the bound
// address, which differs from the configured one when the port is 0.
func (s *HTTP3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}
	s.pc = pc
	done := make(chan struct{})
	go func() {
		_ = s.srv.Serve(pc)
		close(done)
	}()
	s.close = func() error {
		err := s.srv.Close()
		_ = pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return err
	}
	return pc.LocalAddr().String(), nil
}

// Stop closes the listener and waits briefly for Serve to return.
func (s *HTTP3Server) Stop() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// HTTP3Client returns an http.Client using the HTTP/3 round tripper.
func HTTP3Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{Transport: &http3.Transport{TLSClientConfig: tlsCfg}, Timeout: timeout}
}

// CloseHTTP3Client releases the QUIC connections held by c.
func CloseHTTP3Client(c *http.Client) {
	if tr, ok := c.Transport.(*http3.Transport); ok {
		_ = tr.Close()
	}
}
