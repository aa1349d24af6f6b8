// internal/iface/interface.go
package iface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/packet"
	"groundlink/internal/protocol"
	"groundlink/internal/stream"
	"groundlink/internal/utils"
)

var (
	ErrNotConnected       = errors.New("iface: interface not connected")
	ErrReadNotAllowed     = errors.New("iface: interface not readable")
	ErrWriteNotAllowed    = errors.New("iface: interface not writable")
	ErrWriteRawNotAllowed = errors.New("iface: interface not write-rawable")
	ErrNoStream           = errors.New("iface: no stream")
)

// Interface states
const (
	StateDisconnected = "DISCONNECTED"
	StateAttempting   = "ATTEMPTING"
	StateConnected    = "CONNECTED"
)

// Config represents interface behavior settings
type Config struct {
	Name              string              `json:"name"`
	TargetNames       []string            `json:"target_names"`
	ConnectOnStartup  bool                `json:"connect_on_startup"`
	AutoReconnect     bool                `json:"auto_reconnect"`
	ReconnectDelay    time.Duration       `json:"reconnect_delay"`
	DisableDisconnect bool                `json:"disable_disconnect"`
	ReadAllowed       bool                `json:"read_allowed"`
	WriteAllowed      bool                `json:"write_allowed"`
	WriteRawAllowed   bool                `json:"write_raw_allowed"`
	Options           map[string][]string `json:"options,omitempty"`
}

// DefaultConfig returns the settings of a new interface
func DefaultConfig(name string) Config {
	return Config{
		Name:             strings.ToUpper(name),
		ConnectOnStartup: true,
		AutoReconnect:    true,
		ReconnectDelay:   5 * time.Second,
		ReadAllowed:      true,
		WriteAllowed:     true,
		WriteRawAllowed:  true,
		Options:          map[string][]string{},
	}
}

// Status is the reported state of an interface
type Status struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Clients int    `json:"clients"`
	TxSize  int    `json:"txsize"`
	RxSize  int    `json:"rxsize"`
	TxBytes int64  `json:"txbytes"`
	RxBytes int64  `json:"rxbytes"`
	TxCount int64  `json:"txcnt"`
	RxCount int64  `json:"rxcnt"`
}

// RawData is the last chunk moved through the stream
type RawData struct {
	Data []byte    `json:"data"`
	Time time.Time `json:"time"`
}

// Interface moves packets over a stream through its protocol chains
type Interface struct {
	config Config
	stream stream.Stream
	env    protocol.Env
	base   *zap.Logger
	logger *utils.InterfaceLogger

	// readProtocols run in registration order, writeProtocols in reverse
	readProtocols  []protocol.Protocol
	writeProtocols []protocol.Protocol
	protocols      []protocol.Protocol
	descriptors    []protocol.Descriptor
	overrides      *packet.OverrideTable

	// readMu serializes the read chain with protocol resets
	readMu  sync.Mutex
	writeMu sync.Mutex
	mutex   sync.RWMutex
	state   string

	readCount    int64
	writeCount   int64
	bytesRead    int64
	bytesWritten int64
	lastRead     RawData
	lastWritten  RawData
}

// New creates an interface over s. s may be nil for interfaces that manage
// their own streams.
func New(config Config, s stream.Stream, env protocol.Env, logger *zap.Logger) *Interface {
	if logger == nil {
		logger = zap.NewNop()
	}
	if env.Logger == nil {
		env.Logger = logger
	}
	config.Name = strings.ToUpper(config.Name)
	config.Options = normalizeOptions(config.Options)
	for i, target := range config.TargetNames {
		config.TargetNames[i] = strings.ToUpper(target)
	}
	return &Interface{
		config:    config,
		stream:    s,
		env:       env,
		base:      logger,
		logger:    utils.NewInterfaceLogger(logger, config.Name, "interface"),
		overrides: packet.NewOverrideTable(),
		state:     StateDisconnected,
	}
}

func normalizeOptions(options map[string][]string) map[string][]string {
	out := make(map[string][]string, len(options))
	for name, values := range options {
		out[strings.ToUpper(name)] = append([]string{}, values...)
	}
	return out
}

// Name returns the interface name
func (i *Interface) Name() string {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.config.Name
}

// TargetNames returns the targets mapped to this interface
func (i *Interface) TargetNames() []string {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return append([]string{}, i.config.TargetNames...)
}

// Overrides returns the telemetry override table read by Override protocols
func (i *Interface) Overrides() *packet.OverrideTable {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.overrides
}

// UseOverrides replaces the override table, letting several interfaces share one
func (i *Interface) UseOverrides(table *packet.OverrideTable) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.overrides = table
}

// Config returns a copy of the interface settings
func (i *Interface) Config() Config {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	config := i.config
	config.TargetNames = append([]string{}, i.config.TargetNames...)
	config.Options = normalizeOptions(i.config.Options)
	return config
}

// Stream returns the underlying stream
func (i *Interface) Stream() stream.Stream {
	return i.stream
}

// Env returns the environment protocols are created with
func (i *Interface) Env() protocol.Env {
	return i.env
}

// Logger returns the interface logger
func (i *Interface) Logger() *utils.InterfaceLogger {
	return i.logger
}

// SetOption stores an option under its upper-cased name
func (i *Interface) SetOption(name string, values []string) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.config.Options[strings.ToUpper(name)] = append([]string{}, values...)
}

// Option returns the values of an option
func (i *Interface) Option(name string) ([]string, bool) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	values, ok := i.config.Options[strings.ToUpper(name)]
	return values, ok
}

// AddProtocol creates a protocol from desc and joins it to the read chain,
// the write chain or both
func (i *Interface) AddProtocol(desc protocol.Descriptor) error {
	if desc.Direction == "" {
		desc.Direction = protocol.DirectionReadWrite
	}
	direction, err := protocol.ParseDirection(string(desc.Direction))
	if err != nil {
		return err
	}
	desc.Direction = direction
	desc.Args = cloneArgs(desc.Args)

	p, err := protocol.Create(desc, i.env)
	if err != nil {
		return err
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if direction.Reads() {
		i.readProtocols = append(i.readProtocols, p)
	}
	if direction.Writes() {
		i.writeProtocols = append([]protocol.Protocol{p}, i.writeProtocols...)
	}
	i.protocols = append(i.protocols, p)
	i.descriptors = append(i.descriptors, desc)

	i.bindLocked()
	return nil
}

// bindLocked attaches every protocol to this interface. Only the final read
// stage is told it is last.
func (i *Interface) bindLocked() {
	last := protocol.Protocol(nil)
	if n := len(i.readProtocols); n > 0 {
		last = i.readProtocols[n-1]
	}
	for _, p := range i.protocols {
		p.Bind(i, p == last)
	}
}

// Descriptors returns the descriptors protocols were created from
func (i *Interface) Descriptors() []protocol.Descriptor {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	out := make([]protocol.Descriptor, len(i.descriptors))
	for n, desc := range i.descriptors {
		desc.Args = cloneArgs(desc.Args)
		out[n] = desc
	}
	return out
}

// ReadProtocols returns the read chain in execution order
func (i *Interface) ReadProtocols() []protocol.Protocol {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return append([]protocol.Protocol{}, i.readProtocols...)
}

// WriteProtocols returns the write chain in execution order
func (i *Interface) WriteProtocols() []protocol.Protocol {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return append([]protocol.Protocol{}, i.writeProtocols...)
}

func cloneArgs(args protocol.Args) protocol.Args {
	if args == nil {
		return nil
	}
	out := make(protocol.Args, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// Connect opens the stream and resets every protocol
func (i *Interface) Connect(ctx context.Context) error {
	if i.stream == nil {
		return fmt.Errorf("%w: %s", ErrNoStream, i.Name())
	}

	i.setState(StateAttempting)
	if err := i.stream.Connect(ctx); err != nil {
		i.setState(StateDisconnected)
		i.logger.LogConnection("connect", false, err)
		return fmt.Errorf("failed to connect %s: %w", i.Name(), err)
	}

	i.resetProtocols(protocol.Protocol.ConnectReset)
	i.setState(StateConnected)
	i.logger.LogConnection("connect", true, nil)
	return nil
}

// Disconnect closes the stream and resets every protocol
func (i *Interface) Disconnect() error {
	var err error
	wasConnected := false
	if i.stream != nil {
		wasConnected = i.stream.Connected()
		err = i.stream.Disconnect()
	}
	i.resetProtocols(protocol.Protocol.DisconnectReset)
	i.setState(StateDisconnected)
	if wasConnected {
		i.logger.LogConnection("disconnect", err == nil, err)
	}
	return err
}

// Connected reports whether the stream is open
func (i *Interface) Connected() bool {
	return i.stream != nil && i.stream.Connected()
}

// resetProtocols runs reset on every protocol once the reader has finished
// its current chunk
func (i *Interface) resetProtocols(reset func(protocol.Protocol)) {
	i.readMu.Lock()
	defer i.readMu.Unlock()
	for _, p := range i.allProtocols() {
		reset(p)
	}
}

func (i *Interface) allProtocols() []protocol.Protocol {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return append([]protocol.Protocol{}, i.protocols...)
}

func (i *Interface) setState(state string) {
	i.mutex.Lock()
	i.state = state
	i.mutex.Unlock()
}

// State returns the connection state
func (i *Interface) State() string {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.state
}

// Read returns the next packet. A nil packet with a nil error means the
// interface was disconnected by the stream or a protocol. Any error
// disconnects the interface before it is returned.
func (i *Interface) Read(ctx context.Context) (*packet.Packet, error) {
	if !i.Connected() {
		return nil, fmt.Errorf("%w for read: %s", ErrNotConnected, i.Name())
	}
	if !i.Config().ReadAllowed {
		return nil, fmt.Errorf("%w: %s", ErrReadNotAllowed, i.Name())
	}

	pkt, err := i.read(ctx)
	if err != nil {
		i.logger.Error("Error reading from interface", zap.Error(err))
		i.Disconnect()
		return nil, err
	}
	if pkt == nil {
		i.Disconnect()
	}
	return pkt, nil
}

func (i *Interface) read(ctx context.Context) (*packet.Packet, error) {
	readProtocols := i.ReadProtocols()
	first := true

	for {
		var data []byte
		if !first || len(readProtocols) == 0 {
			var err error
			data, err = i.readInterface(ctx)
			if err != nil {
				return nil, err
			}
			if data == nil {
				i.logger.Info("read_interface requested disconnect")
				return nil, nil
			}
		} else {
			// Let protocols emit frames already buffered
			data = []byte{}
			first = false
		}

		i.readMu.Lock()
		res, err := i.runReadChain(readProtocols, data)
		i.readMu.Unlock()
		if err != nil {
			return nil, err
		}
		if res.Stopped() {
			continue
		}
		if res.Disconnected() {
			return nil, nil
		}

		pkt := res.Value
		i.mutex.Lock()
		i.readCount++
		i.mutex.Unlock()
		if pkt == nil {
			i.logger.Warn("Interface unexpectedly requested disconnect")
		}
		return pkt, nil
	}
}

// runReadChain passes one chunk through the data and packet stages. Callers
// hold readMu.
func (i *Interface) runReadChain(readProtocols []protocol.Protocol, data []byte) (protocol.Result[*packet.Packet], error) {
	for _, p := range readProtocols {
		res, err := p.ReadData(data)
		if err != nil {
			return protocol.Result[*packet.Packet]{}, err
		}
		if res.Disconnected() {
			i.logger.Info("Protocol read_data requested disconnect", zap.String("protocol", protocolName(p)))
			return protocol.Disconnect[*packet.Packet](), nil
		}
		if res.Stopped() {
			return protocol.Stop[*packet.Packet](), nil
		}
		data = res.Value
	}

	pkt := i.convertDataToPacket(data)

	for _, p := range readProtocols {
		res, err := p.ReadPacket(pkt)
		if err != nil {
			return protocol.Result[*packet.Packet]{}, err
		}
		if res.Disconnected() {
			i.logger.Info("Protocol read_packet requested disconnect", zap.String("protocol", protocolName(p)))
			return res, nil
		}
		if res.Stopped() {
			return res, nil
		}
		pkt = res.Value
	}
	return protocol.Continue(pkt), nil
}

// readInterface returns the next non-empty chunk from the stream, or nil when
// the stream closed
func (i *Interface) readInterface(ctx context.Context) ([]byte, error) {
	for {
		data, err := i.stream.Read(ctx)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, nil
		}
		if len(data) == 0 {
			continue
		}
		i.readInterfaceBase(data)
		return data, nil
	}
}

func (i *Interface) readInterfaceBase(data []byte) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.bytesRead += int64(len(data))
	i.lastRead = RawData{Data: append([]byte{}, data...), Time: time.Now()}
}

func (i *Interface) convertDataToPacket(data []byte) *packet.Packet {
	return packet.New("", "", data)
}

// Write sends pkt through the write chain. Writers are serialized. STOP from
// any stage abandons the write; DISCONNECT also disconnects. Any error
// disconnects the interface before it is returned.
func (i *Interface) Write(ctx context.Context, pkt *packet.Packet) error {
	if !i.Connected() {
		return fmt.Errorf("%w for write: %s", ErrNotConnected, i.Name())
	}
	if !i.Config().WriteAllowed {
		return fmt.Errorf("%w: %s", ErrWriteNotAllowed, i.Name())
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	if err := i.write(ctx, pkt); err != nil {
		i.logger.Error("Error writing to interface", zap.Error(err))
		i.Disconnect()
		return err
	}
	return nil
}

func (i *Interface) write(ctx context.Context, pkt *packet.Packet) error {
	i.mutex.Lock()
	i.writeCount++
	i.mutex.Unlock()

	writeProtocols := i.WriteProtocols()

	for _, p := range writeProtocols {
		res, err := p.WritePacket(pkt)
		if err != nil {
			return err
		}
		if res.Disconnected() {
			i.logger.Info("Protocol write_packet requested disconnect", zap.String("protocol", protocolName(p)))
			i.Disconnect()
			return nil
		}
		if res.Stopped() {
			return nil
		}
		pkt = res.Value
	}

	data := i.convertPacketToData(pkt)

	for _, p := range writeProtocols {
		res, err := p.WriteData(data)
		if err != nil {
			return err
		}
		if res.Disconnected() {
			i.logger.Info("Protocol write_data requested disconnect", zap.String("protocol", protocolName(p)))
			i.Disconnect()
			return nil
		}
		if res.Stopped() {
			return nil
		}
		data = res.Value
	}

	if err := i.writeInterface(ctx, data); err != nil {
		return err
	}

	for _, p := range writeProtocols {
		res, out, err := p.PostWriteInterface(pkt, data)
		if err != nil {
			return err
		}
		if res.Disconnected() {
			i.logger.Info("Protocol post_write_packet requested disconnect", zap.String("protocol", protocolName(p)))
			i.Disconnect()
			return nil
		}
		if res.Stopped() {
			return nil
		}
		pkt, data = res.Value, out
	}
	return nil
}

// WriteRaw sends data straight to the stream, bypassing the protocols
func (i *Interface) WriteRaw(ctx context.Context, data []byte) error {
	if !i.Connected() {
		return fmt.Errorf("%w for write_raw: %s", ErrNotConnected, i.Name())
	}
	if !i.Config().WriteRawAllowed {
		return fmt.Errorf("%w: %s", ErrWriteRawNotAllowed, i.Name())
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	if err := i.writeInterface(ctx, data); err != nil {
		i.logger.Error("Error writing to interface", zap.Error(err))
		i.Disconnect()
		return err
	}
	return nil
}

func (i *Interface) writeInterface(ctx context.Context, data []byte) error {
	if err := i.stream.Write(ctx, data); err != nil {
		return err
	}
	i.writeInterfaceBase(data)
	return nil
}

func (i *Interface) writeInterfaceBase(data []byte) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.bytesWritten += int64(len(data))
	i.lastWritten = RawData{Data: append([]byte{}, data...), Time: time.Now()}
}

// convertPacketToData copies the buffer so the caller's packet is not modified
// by data stages
func (i *Interface) convertPacketToData(pkt *packet.Packet) []byte {
	return pkt.BufferCopy()
}

// LastRawRead returns the last chunk read from the stream
func (i *Interface) LastRawRead() RawData {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.lastRead
}

// LastRawWritten returns the last chunk written to the stream
func (i *Interface) LastRawWritten() RawData {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.lastWritten
}

// Counters returns read count, write count, bytes read and bytes written
func (i *Interface) Counters() (readCount, writeCount, bytesRead, bytesWritten int64) {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.readCount, i.writeCount, i.bytesRead, i.bytesWritten
}

// AddCounters adds to the counters. Servers use it to account for the traffic
// of their clients.
func (i *Interface) AddCounters(readCount, writeCount, bytesRead, bytesWritten int64) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.readCount += readCount
	i.writeCount += writeCount
	i.bytesRead += bytesRead
	i.bytesWritten += bytesWritten
}

// Status returns the interface status
func (i *Interface) Status() Status {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	state := i.state
	if state == StateConnected && (i.stream == nil || !i.stream.Connected()) {
		state = StateDisconnected
	}
	return Status{
		Name:    i.config.Name,
		State:   state,
		TxBytes: i.bytesWritten,
		RxBytes: i.bytesRead,
		TxCount: i.writeCount,
		RxCount: i.readCount,
	}
}

// OverrideTlm forces a converted value into every received matching packet
func (i *Interface) OverrideTlm(target, packetName, item string, value any) {
	i.Overrides().Set(target, packetName, item, value, packet.Converted)
}

// OverrideTlmRaw forces a raw value into every received matching packet
func (i *Interface) OverrideTlmRaw(target, packetName, item string, value any) {
	i.Overrides().Set(target, packetName, item, value, packet.Raw)
}

// NormalizeTlm clears an override
func (i *Interface) NormalizeTlm(target, packetName, item string) {
	i.Overrides().Clear(target, packetName, item)
}

// CopyTo copies settings, counters and overrides to other, and rebuilds other's
// protocols from this interface's descriptors
func (i *Interface) CopyTo(other *Interface) error {
	config := i.Config()
	readCount, writeCount, bytesRead, bytesWritten := i.Counters()
	descriptors := i.Descriptors()

	other.mutex.Lock()
	other.config = config
	other.readCount = readCount
	other.writeCount = writeCount
	other.bytesRead = bytesRead
	other.bytesWritten = bytesWritten
	other.readProtocols = nil
	other.writeProtocols = nil
	other.protocols = nil
	other.descriptors = nil
	other.overrides = i.Overrides().Clone()
	other.logger = utils.NewInterfaceLogger(other.base, config.Name, "interface")
	other.mutex.Unlock()

	for _, desc := range descriptors {
		if err := other.AddProtocol(desc); err != nil {
			return fmt.Errorf("failed to copy protocols: %w", err)
		}
	}
	return nil
}

func protocolName(p protocol.Protocol) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", p), "*protocol.")
}
