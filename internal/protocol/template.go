// internal/protocol/template.go
package protocol

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

var placeholderPattern = regexp.MustCompile(`<(.*?)>`)

// TemplateConfig holds template protocol parameters
type TemplateConfig struct {
	WriteTermination      []byte
	ReadTermination       []byte
	IgnoreLines           int
	InitialReadDelay      time.Duration
	ResponseLines         int
	StripReadTermination  bool
	DiscardLeadingBytes   int
	SyncPattern           []byte
	FillFields            bool
	ResponseTimeout       time.Duration
	ResponsePollingPeriod time.Duration
	RaiseExceptions       bool
	AllowEmptyData        *bool
}

// DefaultTemplateConfig returns one response line, a 5 second response timeout
// and a 20ms polling period
func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{
		ResponseLines:         1,
		StripReadTermination:  true,
		ResponseTimeout:       5 * time.Second,
		ResponsePollingPeriod: 20 * time.Millisecond,
	}
}

// Template implements a line based command and response protocol. Commands carry
// a CMD_TEMPLATE string whose <ITEM> placeholders are filled from the command.
// When RSP_TEMPLATE and RSP_PACKET are set the writer blocks until the response
// lines are read and parsed into the response telemetry packet.
type Template struct {
	*Terminated
	registry         *packet.Registry
	ignoreLines      int
	responseLines    int
	initialReadDelay time.Duration
	responseTimeout  time.Duration
	pollingPeriod    time.Duration
	raiseExceptions  bool

	mu                     sync.Mutex
	responseTemplate       string
	responsePacket         string
	responseTarget         string
	responsePackets        []*packet.Packet
	connectCompleteTime    time.Time
	initialReadDelayNeeded bool

	writeBlock chan struct{}
}

// NewTemplate creates a template protocol
func NewTemplate(config TemplateConfig, registry *packet.Registry, logger *zap.Logger) (*Template, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: template protocol requires a packet registry", ErrInvalidConfig)
	}
	if config.IgnoreLines < 0 || config.ResponseLines < 0 {
		return nil, fmt.Errorf("%w: ignore_lines and response_lines must not be negative", ErrInvalidConfig)
	}
	if config.ResponsePollingPeriod <= 0 {
		config.ResponsePollingPeriod = 20 * time.Millisecond
	}

	terminated, err := newTerminated(TerminatedConfig{
		WriteTermination:     config.WriteTermination,
		ReadTermination:      config.ReadTermination,
		StripReadTermination: config.StripReadTermination,
		DiscardLeadingBytes:  config.DiscardLeadingBytes,
		SyncPattern:          config.SyncPattern,
		FillFields:           config.FillFields,
		AllowEmptyData:       config.AllowEmptyData,
	}, logger)
	if err != nil {
		return nil, err
	}
	terminated.reducer = terminated

	t := &Template{
		Terminated:       terminated,
		registry:         registry,
		ignoreLines:      config.IgnoreLines,
		responseLines:    config.ResponseLines,
		initialReadDelay: config.InitialReadDelay,
		responseTimeout:  config.ResponseTimeout,
		pollingPeriod:    config.ResponsePollingPeriod,
		raiseExceptions:  config.RaiseExceptions,
		writeBlock:       make(chan struct{}, 1),
	}
	t.Reset()
	return t, nil
}

func (t *Template) Reset() {
	t.Terminated.Reset()
	t.mu.Lock()
	t.initialReadDelayNeeded = true
	t.mu.Unlock()
}

func (t *Template) ConnectReset() {
	t.Reset()
drain:
	for {
		select {
		case <-t.writeBlock:
		default:
			break drain
		}
	}
	if t.initialReadDelay > 0 {
		t.mu.Lock()
		t.connectCompleteTime = time.Now().Add(t.initialReadDelay)
		t.mu.Unlock()
	}
}

func (t *Template) DisconnectReset() {
	t.Reset()
	t.signalResponse()
}

func (t *Template) signalResponse() {
	select {
	case t.writeBlock <- struct{}{}:
	default:
	}
}

func (t *Template) ReadData(data []byte) (Result[[]byte], error) {
	if len(data) == 0 {
		return t.Terminated.ReadData(data)
	}

	t.mu.Lock()
	if t.initialReadDelay > 0 && t.initialReadDelayNeeded && !t.connectCompleteTime.IsZero() {
		if time.Now().Before(t.connectCompleteTime) {
			t.mu.Unlock()
			return Stop[[]byte](), nil
		}
		t.initialReadDelayNeeded = false
	}
	t.mu.Unlock()

	return t.Terminated.ReadData(data)
}

func (t *Template) ReadPacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.responseTemplate == "" || t.responsePacket == "" {
		return Continue(pkt), nil
	}

	t.responsePackets = append(t.responsePackets, pkt)
	if len(t.responsePackets) < t.ignoreLines+t.responseLines {
		return Stop[*packet.Packet](), nil
	}

	var response strings.Builder
	for _, line := range t.responsePackets[t.ignoreLines : t.ignoreLines+t.responseLines] {
		response.Write(line.Buffer())
	}
	t.responsePackets = nil
	defer t.signalResponse()

	result, err := t.registry.Packet(packet.Telemetry, t.responseTarget, t.responsePacket)
	if err != nil {
		return Result[*packet.Packet]{}, fmt.Errorf("%s: response packet: %w", t.ownerName(), err)
	}
	result.ReceivedTime = time.Now()

	names, re := responsePattern(t.responseTemplate)
	values := re.FindStringSubmatch(response.String())
	if values == nil || len(values)-1 != len(names) {
		if err := t.handleError(fmt.Sprintf("%s: Unexpected response: %s", t.ownerName(), response.String())); err != nil {
			return Result[*packet.Packet]{}, err
		}
		return Continue(result), nil
	}

	for i, value := range values[1:] {
		if err := result.Write(names[i], value, packet.Converted); err != nil {
			if err := t.handleError(fmt.Sprintf("%s: Could not write value %s due to %s", t.ownerName(), value, err)); err != nil {
				return Result[*packet.Packet]{}, err
			}
			break
		}
	}
	return Continue(result), nil
}

// responsePattern turns a response template into a regexp with one capture group
// per placeholder. Literal text matches literally.
func responsePattern(template string) ([]string, *regexp.Regexp) {
	var (
		names   []string
		pattern strings.Builder
		last    int
	)
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(template, -1) {
		pattern.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		pattern.WriteString("(.*)")
		names = append(names, template[loc[2]:loc[3]])
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(template[last:]))
	return names, regexp.MustCompile(pattern.String())
}

func (t *Template) WritePacket(pkt *packet.Packet) (Result[*packet.Packet], error) {
	t.mu.Lock()
	var delay time.Duration
	if t.initialReadDelay > 0 && t.initialReadDelayNeeded && !t.connectCompleteTime.IsZero() {
		delay = time.Until(t.connectCompleteTime)
	}
	t.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	responseTemplate := readTrimmedString(pkt, "RSP_TEMPLATE")
	responsePacket := readTrimmedString(pkt, "RSP_PACKET")
	if responseTemplate == "" || responsePacket == "" {
		responseTemplate, responsePacket = "", ""
	}

	value, err := pkt.Read("CMD_TEMPLATE", packet.Converted)
	if err != nil {
		return Result[*packet.Packet]{}, err
	}
	commandTemplate := formatValue(value)

	res, err := t.Terminated.WritePacket(packet.New("", "", []byte(commandTemplate)))
	if err != nil || !res.Continued() {
		return res, err
	}
	raw := res.Value

	data := string(raw.Buffer())
	for _, match := range placeholderPattern.FindAllStringSubmatch(commandTemplate, -1) {
		value, err := pkt.Read(match[1], packet.Raw)
		if err != nil {
			return Result[*packet.Packet]{}, err
		}
		text := formatValue(value)
		data = strings.ReplaceAll(data, match[0], text)
		if responsePacket != "" {
			responsePacket = strings.ReplaceAll(responsePacket, match[0], text)
		}
	}
	raw.SetBuffer([]byte(data))

	t.mu.Lock()
	t.responseTemplate = responseTemplate
	t.responsePacket = responsePacket
	t.responseTarget = ""
	if responseTemplate != "" {
		t.responseTarget = pkt.TargetName
	}
	t.mu.Unlock()

	return Continue(raw), nil
}

func (t *Template) PostWriteInterface(pkt *packet.Packet, data []byte) (Result[*packet.Packet], []byte, error) {
	t.mu.Lock()
	waiting := t.responseTemplate != "" && t.responsePacket != ""
	t.mu.Unlock()
	if !waiting {
		return t.Terminated.PostWriteInterface(pkt, data)
	}

	var waitErr error
	var deadline time.Time
	if t.responseTimeout > 0 {
		deadline = time.Now().Add(t.responseTimeout)
	}
	ticker := time.NewTicker(t.pollingPeriod)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-t.writeBlock:
			break wait
		case <-ticker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				waitErr = t.handleError(fmt.Sprintf("%s: Timeout waiting for response", t.ownerName()))
				break wait
			}
		}
	}

	t.mu.Lock()
	t.responseTemplate = ""
	t.responsePacket = ""
	t.responseTarget = ""
	t.responsePackets = nil
	t.mu.Unlock()

	if waitErr != nil {
		return Result[*packet.Packet]{}, data, waitErr
	}
	return t.Terminated.PostWriteInterface(pkt, data)
}

// handleError logs and returns an error only when exceptions are raised
func (t *Template) handleError(msg string) error {
	t.logger.Error(msg)
	if t.raiseExceptions {
		return fmt.Errorf("%w: %s", ErrResponse, msg)
	}
	return nil
}

func readTrimmedString(pkt *packet.Packet, name string) string {
	value, err := pkt.Read(name, packet.Converted)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(formatValue(value))
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%.1f", v)
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}
