package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/transport"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	// userAgent is sent along with the identify protocol.
	userAgent = "psi/0.1.0"
	// connectTimeout bounds each dial to a configured peer.
	connectTimeout = 5 * time.Second
)

// TopicName returns the pubsub topic carrying event within namespace.
func TopicName(namespace, event string) string {
	return fmt.Sprintf("/psi/v1/%s/%s", namespace, event)
}

// Transport maps events onto gossipsub topics.
//
// Events published by the local host are not delivered back to local subscribers.
type Transport struct {
	ps        *pubsub.PubSub
	self      peer.ID
	namespace string
	log       log.Logger

	mtx    sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[*subscription]struct{}
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

// New wraps a pubsub router. self is the ID of the host the router runs on.
func New(ps *pubsub.PubSub, self peer.ID, namespace string, l log.Logger) *Transport {
	if l == nil {
		l = log.Nop()
	}
	return &Transport{
		ps:        ps,
		self:      self,
		namespace: namespace,
		log:       l.Named("gossip").With("namespace", namespace),
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[*subscription]struct{}),
	}
}

func (t *Transport) topic(event string) (*pubsub.Topic, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	if tp, ok := t.topics[event]; ok {
		return tp, nil
	}
	tp, err := t.ps.Join(TopicName(t.namespace, event))
	if err != nil {
		return nil, fmt.Errorf("gossip: joining %s: %w", event, err)
	}
	t.topics[event] = tp
	return tp, nil
}

// Publish implements transport.Transport.
func (t *Transport) Publish(ctx context.Context, event string, payload []byte) error {
	tp, err := t.topic(event)
	if err != nil {
		return err
	}
	if err := tp.Publish(ctx, payload); err != nil {
		return fmt.Errorf("gossip: publish %s: %w", event, err)
	}
	return nil
}

type subscription struct {
	cancel context.CancelFunc
	sub    *pubsub.Subscription
	t      *Transport
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.sub.Cancel()
		s.t.mtx.Lock()
		delete(s.t.subs, s)
		s.t.mtx.Unlock()
	})
}

// Subscribe implements transport.Transport. Each subscription reads on its own goroutine.
func (t *Transport) Subscribe(event string, h transport.Handler) (transport.Subscription, error) {
	tp, err := t.topic(event)
	if err != nil {
		return nil, err
	}
	sub, err := tp.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("gossip: subscribe %s: %w", event, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{cancel: cancel, sub: sub, t: t}

	t.mtx.Lock()
	t.subs[s] = struct{}{}
	t.mtx.Unlock()

	go func() {
		for {
			msg, err := sub.Next(ctx)
			if ctx.Err() != nil {
				t.log.Debugw("subscription closed", "event", event)
				return
			}
			if err != nil {
				t.log.Warnw("next message", "event", event, "err", err)
				if errors.Is(err, pubsub.ErrSubscriptionCancelled) {
					return
				}
				continue
			}
			if msg.ReceivedFrom == t.self {
				continue
			}
			h(msg.Data)
		}
	}()
	return s, nil
}

// Close cancels every subscription and leaves all topics.
func (t *Transport) Close() error {
	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mtx.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()
	var errs *multierror.Error
	for event, tp := range t.topics {
		if err := tp.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("gossip: closing %s: %w", event, err))
		}
	}
	t.topics = map[string]*pubsub.Topic{}
	return errs.ErrorOrNil()
}

// NewHost builds a libp2p host listening on listenAddr, with a gossipsub router
// connected to the given peers (multiaddrs ending in /p2p/<id>).
func NewHost(ctx context.Context, listenAddr string, peers []string, l log.Logger) (host.Host, *pubsub.PubSub, error) {
	if l == nil {
		l = log.Nop()
	}
	addrInfos, err := parsePeers(peers)
	if err != nil {
		return nil, nil, err
	}

	opts := []libp2p.Option{
		libp2p.UserAgent(userAgent),
		libp2p.DisableRelay(),
	}
	if listenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddr))
	} else {
		opts = append(opts, libp2p.NoListenAddrs)
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("gossip: constructing host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithPeerExchange(true),
		pubsub.WithDirectPeers(addrInfos),
		pubsub.WithFloodPublish(true),
	)
	if err != nil {
		_ = h.Close()
		return nil, nil, fmt.Errorf("gossip: constructing pubsub: %w", err)
	}

	for _, ai := range addrInfos {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := h.Connect(dialCtx, ai)
		cancel()
		if err != nil {
			l.Warnw("could not connect to peer", "peer", ai.ID.String(), "err", err)
		}
	}
	return h, ps, nil
}

// Addrs returns the full multiaddrs of h, including its /p2p/ component.
func Addrs(h host.Host) []string {
	info := peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func parsePeers(peers []string) ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(peers))
	for _, p := range peers {
		addr, err := ma.NewMultiaddr(p)
		if err != nil {
			return nil, fmt.Errorf("gossip: parsing peer %q: %w", p, err)
		}
		ai, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("gossip: peer %q: %w", p, err)
		}
		infos = append(infos, *ai)
	}
	return infos, nil
}
