package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/pdu"
)

// Transport moves whole PDUs over one carrier connection.
type Transport interface {
	ReadPDU() (pdu.PDU, error)
	WritePDU(p pdu.PDU) error
	Close() error
}

// Dialer opens a Transport.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// TCPDialer connects to an SMSC over plain TCP.
type TCPDialer struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Addr, err)
	}
	return &tcpTransport{conn: gosmpp.NewConnection(conn)}, nil
}

type tcpTransport struct {
	conn *gosmpp.Connection
}

func (t *tcpTransport) ReadPDU() (pdu.PDU, error) {
	return pdu.Parse(t.conn)
}

func (t *tcpTransport) WritePDU(p pdu.PDU) error {
	_, err := t.conn.WritePDU(p)
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
