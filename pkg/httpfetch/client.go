package httpfetch

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// TLSConfig carries the trust material spec §4.3 requires for HTTPS
// downloads: an explicit CA to verify against, or an explicit opt-in to
// skip verification entirely, plus an optional client certificate pair
// for origins that require mutual TLS — the same material the control
// channel shares over onto the downloader per spec §6.
type TLSConfig struct {
	InsecureSkipVerify bool
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte
}

// Client is a single dedicated connection for one download attempt —
// spec §4.3 requires never reusing the control channel's TLS session,
// so a fresh Client is created per attempt and discarded on Close.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	contentLength int64 // -1 when unknown (no Content-Length header)
	chunked       bool

	bodyBytesRead int64
	headerDone    bool
	closed        bool
}

// Dial opens the TCP (and, for https, TLS) connection, sends the GET
// request spec §6 specifies exactly, and reads the response headers
// under a bounded deadline (spec §4.3's 5s header sub-timeout). The
// returned Client is positioned to stream the body via ReadChunk.
func Dial(u URL, tlsCfg TLSConfig, headerTimeout time.Duration, dialTimeout time.Duration) (*Client, error) {
	addr := net.JoinHostPort(u.Host, strconv.Itoa(u.Port))

	rawConn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	var conn net.Conn = rawConn
	if u.UseTLS() {
		conf := &tls.Config{
			ServerName:         u.Host,
			InsecureSkipVerify: tlsCfg.InsecureSkipVerify,
		}
		if len(tlsCfg.CACert) > 0 {
			pool, poolErr := certPoolFromPEM(tlsCfg.CACert)
			if poolErr != nil {
				rawConn.Close()
				return nil, poolErr
			}
			conf.RootCAs = pool
		}
		if len(tlsCfg.ClientCert) > 0 && len(tlsCfg.ClientKey) > 0 {
			cert, certErr := tls.X509KeyPair(tlsCfg.ClientCert, tlsCfg.ClientKey)
			if certErr != nil {
				rawConn.Close()
				return nil, fmt.Errorf("parse client certificate: %w", certErr)
			}
			conf.Certificates = []tls.Certificate{cert}
		}
		tlsConn := tls.Client(rawConn, conf)
		if err := tlsConn.SetDeadline(time.Now().Add(headerTimeout)); err != nil {
			rawConn.Close()
			return nil, err
		}
		if err := tlsConn.Handshake(); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	c := &Client{conn: conn, reader: bufio.NewReader(conn), contentLength: -1}

	if err := conn.SetDeadline(time.Now().Add(headerTimeout)); err != nil {
		conn.Close()
		return nil, err
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", u.Path, u.Host)
	if _, err := conn.Write([]byte(request)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send request: %w", err)
	}

	if err := c.readHeaders(); err != nil {
		conn.Close()
		return nil, err
	}

	// The body has no deadline of its own; the Downloader's overall
	// downloadTimeout governs the rest of the attempt.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) readHeaders() error {
	statusLine, err := c.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read status line: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("malformed status line %q", statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("malformed status code %q", parts[1])
	}
	if status != 200 {
		return fmt.Errorf("unexpected status code %d", status)
	}

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read header line: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch name {
		case "content-length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				c.contentLength = n
			}
		case "transfer-encoding":
			if strings.EqualFold(value, "chunked") {
				c.chunked = true
			}
		}
	}
	c.headerDone = true
	return nil
}

// ContentLength returns the advertised body size, or -1 if the server
// did not send Content-Length.
func (c *Client) ContentLength() int64 {
	return c.contentLength
}

// Chunked reports whether the response used Transfer-Encoding: chunked,
// which this client deliberately does not decode (spec §4.3/§9
// explicitly permit declining it).
func (c *Client) Chunked() bool {
	return c.chunked
}

// ReadChunk performs exactly one read of up to len(buf) bytes from the
// body — the Downloader calls this once per Step, never looping
// internally, so a single call can never block longer than one
// underlying socket read. closed reports a clean EOF.
func (c *Client) ReadChunk(buf []byte) (n int, closed bool, err error) {
	n, err = c.reader.Read(buf)
	c.bodyBytesRead += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, true, nil
		}
		return n, false, err
	}
	return n, false, nil
}

// BodyBytesRead is the number of body bytes delivered to the caller so
// far via ReadChunk.
func (c *Client) BodyBytesRead() int64 {
	return c.bodyBytesRead
}

func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
