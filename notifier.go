package gatt

import "errors"

// notifier is the concrete Notifier handed to a NotifyHandler/HandleIndicate
// callback: a thin handle back to the connection and characteristic it was
// constructed for.
type notifier struct {
	conn      *conn
	char      *Characteristic
	maxlen    int
	indicate  bool
	done      bool
}

func newNotifier(c *conn, ch *Characteristic, maxlen int, indicate bool) *notifier {
	return &notifier{conn: c, char: ch, maxlen: maxlen, indicate: indicate}
}

func (n *notifier) Write(data []byte) (int, error) {
	if n.Done() {
		return 0, errors.New("gatt: central has disabled notifications/indications for this characteristic")
	}
	if n.indicate {
		return n.conn.server.sendIndication(n.conn, n.char, data)
	}
	return n.conn.server.sendNotification(n.conn, n.char, data)
}

func (n *notifier) Cap() int   { return n.maxlen }
func (n *notifier) Done() bool { return n.done }
func (n *notifier) stop()      { n.done = true }
