package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/AhHanie/axion-demo/pkg/observability"
)

// Options configures a bus node
type Options struct {
	// NodeType is the registry group this node announces itself under
	NodeType string
	// Redis is the shared connection the node publishes and subscribes on
	Redis *redis.Client
	// Prefix namespaces every key and channel
	Prefix string
	// CallTimeout bounds how long Call waits for a reply
	CallTimeout time.Duration
	// HeartbeatInterval and NodeTTL govern the liveness key. The TTL must
	// exceed the interval or the node flickers out of the registry.
	HeartbeatInterval time.Duration
	NodeTTL           time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Node is one process's attachment to the bus
type Node struct {
	id       string
	nodeType string
	client   *redis.Client
	prefix   string

	callTimeout time.Duration
	heartbeat   time.Duration
	nodeTTL     time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	pending  map[string]chan *reply

	sub    *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. Start must be called before the node participates
// in the bus.
func NewNode(opts Options) (*Node, error) {
	if opts.NodeType == "" {
		return nil, fmt.Errorf("node type is required")
	}
	if opts.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "axion"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.NodeTTL <= opts.HeartbeatInterval {
		opts.NodeTTL = 3 * opts.HeartbeatInterval
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &Node{
		id:          uuid.NewString(),
		nodeType:    opts.NodeType,
		client:      opts.Redis,
		prefix:      opts.Prefix,
		callTimeout: opts.CallTimeout,
		heartbeat:   opts.HeartbeatInterval,
		nodeTTL:     opts.NodeTTL,
		logger:      opts.Logger.WithField("component", "bus"),
		metrics:     opts.Metrics,
		handlers:    make(map[string]Handler),
		pending:     make(map[string]chan *reply),
	}, nil
}

// ID returns the node's unique id
func (n *Node) ID() string {
	return n.id
}

// NodeType returns the registry group the node belongs to
func (n *Node) NodeType() string {
	return n.nodeType
}

func (n *Node) livenessKey(nodeType, id string) string {
	return fmt.Sprintf("%s:bus:nodes:%s:%s", n.prefix, nodeType, id)
}

func (n *Node) inboxChannel(id string) string {
	return fmt.Sprintf("%s:bus:inbox:%s", n.prefix, id)
}

func (n *Node) replyChannel(id string) string {
	return fmt.Sprintf("%s:bus:reply:%s", n.prefix, id)
}

// Register exposes a module handler on this node. Calls addressed to
// "<module>.<fn>" land on the handler's Interceptor. Must be called before
// Start.
func (n *Node) Register(module string, handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[module] = handler
}

// Start announces the node and begins serving its inbox
func (n *Node) Start(ctx context.Context) error {
	if err := n.client.Set(ctx, n.livenessKey(n.nodeType, n.id), time.Now().Unix(), n.nodeTTL).Err(); err != nil {
		return fmt.Errorf("failed to announce node: %w", err)
	}

	n.sub = n.client.Subscribe(ctx, n.inboxChannel(n.id), n.replyChannel(n.id))
	// Force the subscription to be established before returning so a
	// just-started node never advertises an inbox nobody listens on.
	if _, err := n.sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe inbox: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.wg.Add(2)
	go n.receiveLoop(runCtx)
	go n.heartbeatLoop(runCtx)

	n.logger.WithFields(map[string]any{
		"node_id":   n.id,
		"node_type": n.nodeType,
	}).Info("bus node started")
	return nil
}

// Close withdraws the node from the registry and stops serving
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.sub != nil {
		n.sub.Close()
	}
	n.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return n.client.Del(ctx, n.livenessKey(n.nodeType, n.id)).Err()
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.client.Set(ctx, n.livenessKey(n.nodeType, n.id), time.Now().Unix(), n.nodeTTL).Err(); err != nil {
				n.logger.WithError(err).Warn("failed to refresh node liveness")
			}
		}
	}
}

func (n *Node) receiveLoop(ctx context.Context) {
	defer n.wg.Done()

	ch := n.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Channel {
			case n.replyChannel(n.id):
				n.handleReply(msg.Payload)
			case n.inboxChannel(n.id):
				n.handleRequest(ctx, msg.Payload)
			}
		}
	}
}

func (n *Node) handleReply(payload string) {
	var rep reply
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		n.logger.WithError(err).Warn("dropping malformed reply")
		return
	}

	n.mu.Lock()
	ch, ok := n.pending[rep.ID]
	if ok {
		delete(n.pending, rep.ID)
	}
	n.mu.Unlock()

	if ok {
		ch <- &rep
	}
}

func (n *Node) handleRequest(ctx context.Context, payload string) {
	var req request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		n.logger.WithError(err).Warn("dropping malformed request")
		return
	}

	// Each dispatch runs on its own goroutine so a slow handler never blocks
	// the inbox.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dispatch(ctx, &req)
	}()
}

func (n *Node) dispatch(ctx context.Context, req *request) {
	ctx, cancel := context.WithTimeout(ctx, n.callTimeout)
	defer cancel()

	module, fn, found := strings.Cut(req.Call, ".")
	if !found {
		n.replyError(ctx, req, fmt.Sprintf("malformed call %q", req.Call))
		n.countDispatch(req.Call, "", "malformed")
		return
	}

	n.mu.RLock()
	handler, ok := n.handlers[module]
	n.mu.RUnlock()
	if !ok {
		n.replyError(ctx, req, fmt.Sprintf("module %s not found", module))
		n.countDispatch(module, fn, "unknown_module")
		return
	}

	result, err := n.invoke(ctx, handler, fn, req.Args)
	if err != nil {
		n.replyError(ctx, req, err.Error())
		n.countDispatch(module, fn, "error")
		return
	}
	n.countDispatch(module, fn, "ok")

	if req.ReplyTo == "" {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		n.replyError(ctx, req, fmt.Sprintf("failed to encode reply: %v", err))
		return
	}
	n.publishReply(ctx, req, &reply{ID: req.ID, OK: true, Data: data})
}

// invoke runs the handler with panic recovery; a panicking handler produces
// an error reply instead of taking the node down.
func (n *Node) invoke(ctx context.Context, handler Handler, fn string, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(map[string]any{
				"function": fn,
				"panic":    fmt.Sprint(r),
			}).Error("handler panicked\n" + string(debug.Stack()))
			err = fmt.Errorf("internal handler failure")
		}
	}()
	return handler.Interceptor(ctx, fn, args)
}

func (n *Node) replyError(ctx context.Context, req *request, message string) {
	if req.ReplyTo == "" {
		return
	}
	n.publishReply(ctx, req, &reply{ID: req.ID, OK: false, Error: message})
}

func (n *Node) publishReply(ctx context.Context, req *request, rep *reply) {
	payload, err := json.Marshal(rep)
	if err != nil {
		n.logger.WithError(err).Error("failed to encode reply envelope")
		return
	}
	if err := n.client.Publish(ctx, req.ReplyTo, payload).Err(); err != nil {
		n.logger.WithError(err).Warn("failed to publish reply")
	}
}

func (n *Node) countDispatch(module, fn, status string) {
	if n.metrics != nil {
		n.metrics.BusDispatchesTotal.WithLabelValues(module, fn, status).Inc()
	}
}

// pickNode selects one live node of the target type at random
func (n *Node) pickNode(ctx context.Context, nodeType string) (string, error) {
	pattern := n.livenessKey(nodeType, "*")
	keyPrefix := n.livenessKey(nodeType, "")

	var ids []string
	iter := n.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to scan node registry: %w", err)
	}
	if len(ids) == 0 {
		return "", ErrNoNodes
	}
	return ids[rand.Intn(len(ids))], nil
}

// Call invokes "<module>.<function>" on exactly one live node of the target
// type and waits for the reply. Callee-side errors come back as *RemoteError;
// no reply within the call timeout is ErrTimeout.
func (n *Node) Call(ctx context.Context, nodeType, call string, args any) (json.RawMessage, error) {
	start := time.Now()
	data, err := n.call(ctx, nodeType, call, args)

	if n.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		n.metrics.BusCallsTotal.WithLabelValues(call, status).Inc()
		n.metrics.BusCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
	}
	return data, err
}

func (n *Node) call(ctx context.Context, nodeType, call string, args any) (json.RawMessage, error) {
	payload, err := n.encodeRequest(call, args, n.replyChannel(n.id))
	if err != nil {
		return nil, err
	}

	target, err := n.pickNode(ctx, nodeType)
	if err != nil {
		return nil, err
	}

	ch := make(chan *reply, 1)
	n.mu.Lock()
	n.pending[payload.ID] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, payload.ID)
		n.mu.Unlock()
	}()

	raw, _ := json.Marshal(payload)
	if err := n.client.Publish(ctx, n.inboxChannel(target), raw).Err(); err != nil {
		return nil, fmt.Errorf("failed to publish call: %w", err)
	}

	timer := time.NewTimer(n.callTimeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		if !rep.OK {
			return nil, &RemoteError{Call: call, Message: rep.Error}
		}
		return rep.Data, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Emit publishes "<module>.<function>" to exactly one live node of the target
// type without waiting for a result. Delivery is best-effort; an error here
// means the notification was never published, not that it failed remotely.
func (n *Node) Emit(ctx context.Context, nodeType, call string, args any) error {
	payload, err := n.encodeRequest(call, args, "")
	if err != nil {
		return err
	}

	target, err := n.pickNode(ctx, nodeType)
	if err != nil {
		n.countEmit(call, "no_nodes")
		return err
	}

	raw, _ := json.Marshal(payload)
	if err := n.client.Publish(ctx, n.inboxChannel(target), raw).Err(); err != nil {
		n.countEmit(call, "error")
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	n.countEmit(call, "ok")
	return nil
}

func (n *Node) countEmit(call, status string) {
	if n.metrics != nil {
		n.metrics.BusEmitsTotal.WithLabelValues(call, status).Inc()
	}
}

func (n *Node) encodeRequest(call string, args any, replyTo string) (*request, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call args: %w", err)
	}
	return &request{
		ID:      uuid.NewString(),
		Call:    call,
		Args:    data,
		ReplyTo: replyTo,
		From:    n.id,
	}, nil
}
