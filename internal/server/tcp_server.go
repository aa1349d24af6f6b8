// internal/server/tcp_server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundlink/internal/iface"
	"groundlink/internal/packet"
	"groundlink/internal/protocol"
	"groundlink/internal/stream"
	"groundlink/internal/utils"
)

const (
	queueSize          = 1000
	deadClientInterval = 100 * time.Millisecond
	acceptRetryDelay   = 50 * time.Millisecond
)

// Client is a connection accepted by the server
type Client struct {
	ID          string
	Address     string
	Interface   *iface.Interface
	ConnectedAt time.Time

	socket *stream.Socket
	write  bool
	read   bool
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Write       bool      `json:"write"`
	Read        bool      `json:"read"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ConnectionCallback is called for every accepted client before it is used
type ConnectionCallback func(client *Client)

// TCPServer accepts clients on a write port and a read port, which may be the
// same port. Packets read from every read client are merged into one queue and
// every write is sent to all write clients.
type TCPServer struct {
	*iface.Interface
	config *stream.TCPServerConfig
	base   *zap.Logger
	logger *utils.InterfaceLogger

	// mutex guards the client lists
	mutex        sync.Mutex
	writeClients []*Client
	readClients  []*Client

	stateMu   sync.RWMutex
	connected bool
	stop      chan struct{}
	listeners []net.Listener
	addrs     map[string]net.Addr

	listenWG sync.WaitGroup
	readWG   sync.WaitGroup
	writeWG  sync.WaitGroup

	readQueue  chan *packet.Packet
	writeQueue chan *packet.Packet
	rawQueue   chan []byte

	callbackMu        sync.RWMutex
	onWriteConnection ConnectionCallback
	onReadConnection  ConnectionCallback
}

// New creates a TCP server interface. The LISTEN_ADDRESS option overrides the
// configured listen address.
func New(config iface.Config, serverConfig *stream.TCPServerConfig, env protocol.Env, logger *zap.Logger) *TCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := *serverConfig
	intf := iface.New(config, nil, env, logger)
	if values, ok := intf.Option("LISTEN_ADDRESS"); ok && len(values) > 0 {
		cfg.ListenAddress = values[0]
	}

	return &TCPServer{
		Interface:  intf,
		config:     &cfg,
		base:       logger,
		logger:     utils.NewInterfaceLogger(logger, intf.Name(), "tcp_server"),
		readQueue:  make(chan *packet.Packet, queueSize),
		writeQueue: make(chan *packet.Packet, queueSize),
		rawQueue:   make(chan []byte, queueSize),
		addrs:      make(map[string]net.Addr),
	}
}

// OnWriteConnection sets the callback for clients accepted on the write port
func (s *TCPServer) OnWriteConnection(callback ConnectionCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onWriteConnection = callback
}

// OnReadConnection sets the callback for clients accepted on the read port
func (s *TCPServer) OnReadConnection(callback ConnectionCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onReadConnection = callback
}

// Connect starts the listeners and the write dispatchers
func (s *TCPServer) Connect(ctx context.Context) error {
	s.stateMu.RLock()
	stale := s.stop != nil
	s.stateMu.RUnlock()
	if stale {
		s.Disconnect()
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	drain(s.readQueue)
	s.drainWriteQueues()
	s.stop = make(chan struct{})
	stop := s.stop

	var err error
	if s.config.WritePort == s.config.ReadPort {
		err = s.listen(ctx, s.config.ReadPort, true, true, stop)
	} else {
		if s.config.WritePort > 0 {
			err = s.listen(ctx, s.config.WritePort, true, false, stop)
		}
		if err == nil && s.config.ReadPort > 0 {
			err = s.listen(ctx, s.config.ReadPort, false, true, stop)
		}
	}
	if err != nil {
		close(stop)
		for _, ln := range s.listeners {
			ln.Close()
		}
		s.listenWG.Wait()
		s.listeners = nil
		s.stop = nil
		s.logger.LogConnection("connect", false, err)
		return err
	}

	if s.config.WritePort > 0 {
		s.writeWG.Add(2)
		go s.writeLoop(stop)
		go s.rawWriteLoop(stop)
	}

	s.connected = true
	s.logger.LogConnection("connect", true, nil)
	return nil
}

// drain empties a queue without blocking
func drain[T any](queue chan T) {
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

// drainWriteQueues drops writes queued for a session that has ended
func (s *TCPServer) drainWriteQueues() {
	drain(s.writeQueue)
	drain(s.rawQueue)
}

func (s *TCPServer) listen(ctx context.Context, port int, write, read bool, stop chan struct{}) error {
	var lc net.ListenConfig
	address := net.JoinHostPort(s.config.ListenAddress, strconv.Itoa(port))
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("error binding to port %d: %w", port, err)
	}
	s.listeners = append(s.listeners, ln)
	if write {
		s.addrs["write"] = ln.Addr()
	}
	if read {
		s.addrs["read"] = ln.Addr()
	}

	s.logger.Info("Listening for clients",
		zap.String("address", ln.Addr().String()),
		zap.Bool("write", write),
		zap.Bool("read", read),
	)

	s.listenWG.Add(1)
	go s.acceptLoop(ln, write, read, stop)
	return nil
}

// Addr returns the bound address of the "write" or "read" listener
func (s *TCPServer) Addr(direction string) net.Addr {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.addrs[direction]
}

func (s *TCPServer) acceptLoop(ln net.Listener, write, read bool, stop chan struct{}) {
	defer s.listenWG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			select {
			case <-stop:
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		s.accept(conn, write, read, stop)
	}
}

func (s *TCPServer) accept(conn net.Conn, write, read bool, stop chan struct{}) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	var writeConn, readConn net.Conn
	if write {
		writeConn = conn
	}
	if read {
		readConn = conn
	}
	socket := stream.NewSocket(writeConn, readConn, s.config.Socket, s.base)

	client := &Client{
		ID:          uuid.New().String(),
		Address:     conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		socket:      socket,
		write:       write,
		read:        read,
	}

	intf, err := s.newClientInterface(socket)
	if err != nil {
		s.logger.Error("Failed to set up client", zap.String("address", client.Address), zap.Error(err))
		conn.Close()
		return
	}
	client.Interface = intf

	select {
	case <-stop:
		intf.Disconnect()
		return
	default:
	}

	s.callbackMu.RLock()
	onWrite, onRead := s.onWriteConnection, s.onReadConnection
	s.callbackMu.RUnlock()

	if write {
		if onWrite != nil {
			onWrite(client)
		}
		s.mutex.Lock()
		s.writeClients = append(s.writeClients, client)
		s.mutex.Unlock()
	}
	if read {
		if onRead != nil {
			onRead(client)
		}
		s.mutex.Lock()
		s.readClients = append(s.readClients, client)
		s.mutex.Unlock()

		s.readWG.Add(1)
		go s.readLoop(client, stop)
	}

	s.logger.LogClient("accepted", client.ID, client.Address)
}

// newClientInterface builds a connected interface over socket with a fresh
// protocol chain and the server's override table
func (s *TCPServer) newClientInterface(socket *stream.Socket) (*iface.Interface, error) {
	config := s.Interface.Config()
	config.ConnectOnStartup = false
	config.AutoReconnect = false
	// Permissions are enforced by the server
	config.ReadAllowed = true
	config.WriteAllowed = true
	config.WriteRawAllowed = true

	intf := iface.New(config, socket, s.Env(), s.base)
	intf.UseOverrides(s.Overrides())
	for _, desc := range s.Descriptors() {
		if err := intf.AddProtocol(desc); err != nil {
			return nil, err
		}
	}
	if err := intf.Connect(context.Background()); err != nil {
		return nil, err
	}
	return intf, nil
}

func (s *TCPServer) readLoop(client *Client, stop chan struct{}) {
	defer s.readWG.Done()
	ctx := context.Background()

loop:
	for {
		_, _, before, _ := client.Interface.Counters()
		pkt, err := client.Interface.Read(ctx)
		_, _, after, _ := client.Interface.Counters()
		s.AddCounters(0, 0, after-before, 0)
		if err != nil || pkt == nil {
			break
		}

		select {
		case s.readQueue <- pkt.Clone():
		case <-stop:
			break loop
		}
	}

	s.logger.LogClient("lost read connection", client.ID, client.Address)
	s.removeClient(client)
	client.Interface.Disconnect()
}

// Read returns the next packet from any read client. It returns nil when the
// server is disconnected or killed.
func (s *TCPServer) Read(ctx context.Context) (*packet.Packet, error) {
	if !s.Connected() {
		return nil, fmt.Errorf("%w for read: %s", iface.ErrNotConnected, s.Name())
	}
	if !s.Config().ReadAllowed {
		return nil, fmt.Errorf("%w: %s", iface.ErrReadNotAllowed, s.Name())
	}

	stop := s.stopChan()
	select {
	case pkt := <-s.readQueue:
		s.AddCounters(1, 0, 0, 0)
		return pkt, nil
	case <-stop:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write queues pkt for every write client
func (s *TCPServer) Write(ctx context.Context, pkt *packet.Packet) error {
	if err := s.checkWrite(s.Config().WriteAllowed, iface.ErrWriteNotAllowed); err != nil {
		return err
	}
	if s.config.WritePort == 0 {
		return nil
	}

	select {
	case s.writeQueue <- pkt:
		return nil
	case <-s.stopChan():
		return fmt.Errorf("%w for write: %s", iface.ErrNotConnected, s.Name())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteRaw queues data for every write client, bypassing the protocols
func (s *TCPServer) WriteRaw(ctx context.Context, data []byte) error {
	if err := s.checkWrite(s.Config().WriteRawAllowed, iface.ErrWriteRawNotAllowed); err != nil {
		return err
	}
	if s.config.WritePort == 0 {
		return nil
	}

	select {
	case s.rawQueue <- append([]byte{}, data...):
		return nil
	case <-s.stopChan():
		return fmt.Errorf("%w for write_raw: %s", iface.ErrNotConnected, s.Name())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TCPServer) checkWrite(allowed bool, notAllowed error) error {
	if !s.Connected() {
		return fmt.Errorf("%w for write: %s", iface.ErrNotConnected, s.Name())
	}
	if !allowed {
		return fmt.Errorf("%w: %s", notAllowed, s.Name())
	}
	return nil
}

func (s *TCPServer) writeLoop(stop chan struct{}) {
	defer s.writeWG.Done()
	ticker := time.NewTicker(deadClientInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case pkt := <-s.writeQueue:
			s.AddCounters(0, 1, 0, 0)
			s.broadcast(func(c *Client) error {
				return c.Interface.Write(context.Background(), pkt.Clone())
			})
		case <-ticker.C:
			s.checkDeadClients()
		}
	}
}

func (s *TCPServer) rawWriteLoop(stop chan struct{}) {
	defer s.writeWG.Done()
	for {
		select {
		case <-stop:
			return
		case data := <-s.rawQueue:
			s.broadcast(func(c *Client) error {
				return c.Interface.WriteRaw(context.Background(), data)
			})
		}
	}
}

// broadcast sends to every write client and drops the clients that fail
func (s *TCPServer) broadcast(send func(c *Client) error) {
	var written int64
	for _, client := range s.clients(true) {
		_, _, _, before := client.Interface.Counters()
		err := send(client)
		_, _, _, after := client.Interface.Counters()
		written += after - before

		if err != nil || !client.Interface.Connected() {
			s.dropWriteClient(client)
		}
	}
	s.AddCounters(0, 0, 0, written)
}

// checkDeadClients drops write clients that went away without a write noticing.
// A shared socket is left to its read loop.
func (s *TCPServer) checkDeadClients() {
	for _, client := range s.clients(true) {
		if s.config.WritePort != s.config.ReadPort {
			if client.socket.Probe() {
				continue
			}
		} else if client.Interface.Connected() {
			continue
		}
		s.dropWriteClient(client)
	}
}

func (s *TCPServer) dropWriteClient(client *Client) {
	s.logger.LogClient("lost write connection", client.ID, client.Address)
	s.mutex.Lock()
	s.writeClients = without(s.writeClients, client)
	s.mutex.Unlock()
	client.Interface.Disconnect()
}

func (s *TCPServer) removeClient(client *Client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.readClients = without(s.readClients, client)
	if client.write {
		s.writeClients = without(s.writeClients, client)
	}
}

func without(clients []*Client, client *Client) []*Client {
	for n, c := range clients {
		if c == client {
			return append(clients[:n:n], clients[n+1:]...)
		}
	}
	return clients
}

func (s *TCPServer) clients(write bool) []*Client {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if write {
		return append([]*Client{}, s.writeClients...)
	}
	return append([]*Client{}, s.readClients...)
}

// Disconnect stops the listeners, then the read clients, then the write
// dispatchers and write clients
func (s *TCPServer) Disconnect() error {
	defer s.drainWriteQueues()

	s.stateMu.Lock()
	stop, listeners := s.stop, s.listeners
	wasConnected := s.connected
	if stop != nil {
		closeOnce(stop)
	}
	s.stop = nil
	s.listeners = nil
	s.connected = false
	s.addrs = make(map[string]net.Addr)
	s.stateMu.Unlock()

	if stop == nil {
		return nil
	}

	for _, ln := range listeners {
		ln.Close()
	}
	s.listenWG.Wait()

	for _, client := range s.clients(false) {
		client.Interface.Disconnect()
	}
	s.readWG.Wait()

	s.writeWG.Wait()
	s.mutex.Lock()
	writers := s.writeClients
	s.writeClients = nil
	s.readClients = nil
	s.mutex.Unlock()
	for _, client := range writers {
		client.Interface.Disconnect()
	}

	if wasConnected {
		s.logger.LogConnection("disconnect", true, nil)
	}
	return nil
}

// GracefulKill wakes a blocked Read, which returns nil. Disconnect still has
// to be called to release the listeners.
func (s *TCPServer) GracefulKill() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stop != nil {
		closeOnce(s.stop)
	}
}

// closeOnce closes ch unless it is already closed. Callers hold stateMu.
func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *TCPServer) stopChan() chan struct{} {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.stop == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.stop
}

// Connected reports whether the server is listening
func (s *TCPServer) Connected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if !s.connected || s.stop == nil {
		return false
	}
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}

// State returns the connection state of the server
func (s *TCPServer) State() string {
	if s.Connected() {
		return iface.StateConnected
	}
	return iface.StateDisconnected
}

// NumClients returns the number of distinct connected clients
func (s *TCPServer) NumClients() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	seen := make(map[string]struct{})
	for _, c := range s.writeClients {
		seen[c.Address] = struct{}{}
	}
	for _, c := range s.readClients {
		seen[c.Address] = struct{}{}
	}
	return len(seen)
}

// Clients describes every connected client
func (s *TCPServer) Clients() []ClientInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	byID := make(map[string]*ClientInfo)
	var infos []*ClientInfo
	add := func(c *Client) {
		if info, ok := byID[c.ID]; ok {
			info.Write = info.Write || c.write
			info.Read = info.Read || c.read
			return
		}
		info := &ClientInfo{ID: c.ID, Address: c.Address, Write: c.write, Read: c.read, ConnectedAt: c.ConnectedAt}
		byID[c.ID] = info
		infos = append(infos, info)
	}
	for _, c := range s.writeClients {
		add(c)
	}
	for _, c := range s.readClients {
		add(c)
	}

	out := make([]ClientInfo, len(infos))
	for n, info := range infos {
		out[n] = *info
	}
	return out
}

// ReadQueueSize returns the number of packets waiting to be read
func (s *TCPServer) ReadQueueSize() int {
	return len(s.readQueue)
}

// WriteQueueSize returns the number of packets waiting to be sent
func (s *TCPServer) WriteQueueSize() int {
	return len(s.writeQueue)
}

// Status returns the server status
func (s *TCPServer) Status() iface.Status {
	status := s.Interface.Status()
	status.State = s.State()
	status.Clients = s.NumClients()
	status.TxSize = s.WriteQueueSize()
	status.RxSize = s.ReadQueueSize()
	return status
}
