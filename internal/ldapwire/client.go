package ldapwire

import (
	"bufio"
	"net"
	"sync"
	"time"

	ldap "github.com/lor00x/goldap/message"
	"go.uber.org/zap"
)

type client struct {
	net.Conn
	Numero             int
	br                 *bufio.Reader
	bw                 *bufio.Writer
	chanOut            chan *ldap.LDAPMessage
	wg                 sync.WaitGroup
	requestList        map[int]*Message
	mutex              sync.Mutex
	writeDone          chan bool
	rawData            []byte
	closeOnce          sync.Once
	onNewConnection    func(c net.Conn) error
	onConnectionClosed func(c net.Conn)
	Handler            Handler
	Logger             *zap.Logger
	ReadTimeout        time.Duration // optional read timeout
	WriteTimeout       time.Duration // optional write timeout
}

func (c *client) GetConn() net.Conn {
	return c.Conn
}

func (c *client) GetRaw() []byte {
	return c.rawData
}

func (c *client) GetMessageByID(messageID int) (*Message, bool) {
	if requestToAbandon, ok := c.requestList[messageID]; ok {
		return requestToAbandon, true
	}
	return nil, false
}

func (c *client) Addr() net.Addr {
	return c.RemoteAddr()
}

func (c *client) ReadPacket() (*messagePacket, error) {
	mP, err := readMessagePacket(c.br)
	if err != nil {
		return nil, err
	}
	c.rawData = make([]byte, len(mP.bytes))
	copy(c.rawData, mP.bytes)
	return mP, nil
}

func (c *client) serve() {
	defer c.close()

	if onc := c.onNewConnection; onc != nil {
		if err := onc(c.Conn); err != nil {
			c.Logger.Error("OnNewConnection", zap.Error(err))
			return
		}
	}

	// Response queue to the client. Unbuffered: a slow client applies
	// backpressure to the handlers producing its responses rather than
	// letting them race ahead of what the socket can drain.
	c.chanOut = make(chan *ldap.LDAPMessage)
	c.writeDone = make(chan bool)
	go func() {
		for msg := range c.chanOut {
			c.writeMessage(msg)
		}
		close(c.writeDone)
	}()

	c.requestList = make(map[int]*Message)

	if onc := c.onNewConnection; onc != nil {
		if err := onc(c.Conn); err != nil {
			c.Logger.Error("OnNewConnection", zap.Error(err))
			return
		}
	}

	for {
		if c.ReadTimeout != 0 {
			c.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		}
		if c.WriteTimeout != 0 {
			c.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		}

		packet, err := c.ReadPacket()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
				c.Logger.Info("read timeout", zap.Int("client", c.Numero))
			} else {
				c.Logger.Debug("read packet", zap.Int("client", c.Numero), zap.Error(err))
			}
			return
		}

		message, err := packet.readMessage()
		if err != nil {
			c.Logger.Warn("malformed message", zap.Int("client", c.Numero), zap.Error(err))
			continue
		}
		c.Logger.Debug("received", zap.Int("client", c.Numero), zap.String("op", message.ProtocolOpName()))

		if _, ok := message.ProtocolOp().(ldap.UnbindRequest); ok {
			return
		}

		// AbandonRequest draws no response: it only signals the targeted
		// in-flight request, if it is still running.
		if req, ok := message.ProtocolOp().(ldap.AbandonRequest); ok {
			c.mutex.Lock()
			if target, found := c.GetMessageByID(int(req)); found {
				go target.Abandon()
			}
			c.mutex.Unlock()
			continue
		}

		// StartTLS must run on the read goroutine: the connection cannot
		// be left free to read further PDUs until TLS negotiation is
		// resolved. See RFC 4511 §4.14.1.
		if req, ok := message.ProtocolOp().(ldap.ExtendedRequest); ok {
			if req.RequestName() == NoticeOfStartTLS {
				c.wg.Add(1)
				c.ProcessRequestMessage(&message)
				continue
			}
		}

		c.wg.Add(1)
		go c.ProcessRequestMessage(&message)
	}
}

// close tears the client down: it sends a Notice of Disconnection, stops
// reading, abandons every in-flight request, waits for handlers to return,
// and closes the underlying connection. Safe to call more than once —
// Server.Stop and serve's own deferred call can both reach it for the same
// client when Stop closes the connection out from under a blocked read.
func (c *client) close() {
	c.closeOnce.Do(c.doClose)
}

func (c *client) doClose() {
	c.Logger.Info("closing client", zap.Int("client", c.Numero))

	c.wg.Add(1)
	r := NewExtendedResponse(LDAPResultUnwillingToPerform)
	r.SetDiagnosticMessage("server is about to stop")
	r.SetResponseName(NoticeOfDisconnection)

	m := ldap.NewLDAPMessageWithProtocolOp(r)

	c.chanOut <- m
	c.wg.Done()

	c.SetReadDeadline(time.Now().Add(time.Millisecond))

	c.mutex.Lock()
	for _, request := range c.requestList {
		go request.Abandon()
	}
	c.mutex.Unlock()

	c.wg.Wait()
	close(c.chanOut)

	<-c.writeDone
	c.Close()
	c.Logger.Info("client connection closed", zap.Int("client", c.Numero))

	if cb := c.onConnectionClosed; cb != nil {
		cb(c.Conn)
	}
}

func (c *client) writeMessage(m *ldap.LDAPMessage) {
	data, err := m.Write()
	if err != nil {
		c.Logger.Error("encode response", zap.Int("client", c.Numero), zap.Error(err))
		return
	}
	c.bw.Write(data.Bytes())
	c.bw.Flush()
}

// ResponseWriter is used by a Handler to write zero or more responses for
// one request.
type ResponseWriter interface {
	Write(po ldap.ProtocolOp)
}

type responseWriterImpl struct {
	chanOut   chan *ldap.LDAPMessage
	messageID int
}

func (w responseWriterImpl) Write(po ldap.ProtocolOp) {
	m := ldap.NewLDAPMessageWithProtocolOp(po)
	m.SetMessageID(w.messageID)
	w.chanOut <- m
}

func (c *client) ProcessRequestMessage(message *ldap.LDAPMessage) {
	defer c.wg.Done()

	m := Message{
		LDAPMessage: message,
		Done:        make(chan bool, 2),
		Conn:        c.Conn,
	}

	c.registerRequest(&m)
	defer c.unregisterRequest(&m)

	w := responseWriterImpl{
		chanOut:   c.chanOut,
		messageID: m.MessageID().Int(),
	}

	c.Handler.ServeLDAP(w, &m)
}

func (c *client) registerRequest(m *Message) {
	c.mutex.Lock()
	c.requestList[m.MessageID().Int()] = m
	c.mutex.Unlock()
}

func (c *client) unregisterRequest(m *Message) {
	c.mutex.Lock()
	delete(c.requestList, m.MessageID().Int())
	c.mutex.Unlock()
}
