package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/opd-ai/packetnet/factory"
	"github.com/opd-ai/packetnet/registry"
	"github.com/opd-ai/packetnet/session"
	"github.com/opd-ai/packetnet/transport"
)

const chatMessageName = "ChatMessage"

// ChatMessage is the one application packet packetchat exchanges.
type ChatMessage struct {
	_    struct{} `cbor:",toarray"`
	From string
	Text string
}

// newManager creates the factory's transport and a session manager over it.
func newManager(f *factory.TransportFactory) (*session.Manager, error) {
	tr, err := f.CreateTransport(nil)
	if err != nil {
		return nil, err
	}
	return session.New(tr, registry.New())
}

// chatServer relays every chat message to every connected peer.
type chatServer struct {
	mgr  *session.Manager
	name string
	out  io.Writer
}

func newChatServer(mgr *session.Manager, name string, out io.Writer) (*chatServer, error) {
	s := &chatServer{mgr: mgr, name: name, out: out}
	if err := registry.Register(mgr.Registry(), chatMessageName, s.handleChat); err != nil {
		return nil, err
	}
	mgr.OnPeerConnected(func(p *transport.Peer) {
		s.announce(fmt.Sprintf("player %d joined", p.ID))
	})
	mgr.OnPeerDisconnected(func(p *transport.Peer, info transport.DisconnectInfo) {
		s.announce(fmt.Sprintf("player %d left (%s)", p.ID, info.Reason))
	})
	return s, nil
}

func (s *chatServer) handleChat(sender *transport.Peer, msg ChatMessage, _ transport.Channel) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = fmt.Sprintf("player %d", sender.ID)
	}
	s.relay(ChatMessage{From: from, Text: text})
}

func (s *chatServer) announce(text string) {
	s.relay(ChatMessage{From: s.name, Text: text})
}

func (s *chatServer) relay(msg ChatMessage) {
	fmt.Fprintf(s.out, "<%s> %s\n", msg.From, msg.Text)
	_ = s.mgr.Broadcast(chatMessageName, msg, transport.ChannelReliable)
}

// chatClient prints relayed messages and sends typed lines.
type chatClient struct {
	mgr  *session.Manager
	name string
	out  io.Writer
}

func newChatClient(mgr *session.Manager, name string, out io.Writer) (*chatClient, error) {
	c := &chatClient{mgr: mgr, name: name, out: out}
	if err := registry.Register(mgr.Registry(), chatMessageName, c.handleChat); err != nil {
		return nil, err
	}
	mgr.OnJoined(func(id int) {
		fmt.Fprintf(out, "* joined as player %d\n", id)
	})
	mgr.OnDisconnected(func(info transport.DisconnectInfo) {
		fmt.Fprintf(out, "* disconnected: %s\n", info.Reason)
	})
	return c, nil
}

func (c *chatClient) handleChat(_ *transport.Peer, msg ChatMessage, _ transport.Channel) {
	fmt.Fprintf(c.out, "<%s> %s\n", msg.From, msg.Text)
}

func (c *chatClient) say(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return c.mgr.SendToServer(chatMessageName, ChatMessage{From: c.name, Text: line}, transport.ChannelReliable)
}
