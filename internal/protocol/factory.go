// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"groundlink/internal/packet"
)

// Descriptor is the declarative form of a protocol. Interfaces keep descriptors
// so copies can rebuild independent protocol instances.
type Descriptor struct {
	Type      string    `mapstructure:"type" json:"type"`
	Args      Args      `mapstructure:"args" json:"args,omitempty"`
	Direction Direction `mapstructure:"direction" json:"direction"`
}

// Env carries the collaborators protocols may need
type Env struct {
	Registry *packet.Registry
	Logger   *zap.Logger
}

// Create builds a protocol from its descriptor
func Create(desc Descriptor, env Env) (Protocol, error) {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	kind := strings.ToUpper(strings.TrimSpace(desc.Type))
	logger = logger.With(zap.String("protocol", kind))
	args := desc.Args
	if args == nil {
		args = Args{}
	}

	var (
		p   Protocol
		err error
	)
	switch kind {
	case "BURST":
		p, err = createBurst(args, logger)
	case "LENGTH":
		p, err = createLength(args, logger)
	case "TERMINATED":
		p, err = createTerminated(args, logger)
	case "FIXED":
		p, err = createFixed(args, env.Registry, logger)
	case "CRC":
		p, err = createCRC(args, logger)
	case "PREIDENTIFIED":
		p, err = createPreidentified(args, env.Registry, logger)
	case "OVERRIDE":
		p, err = createOverride(args, env.Registry, logger)
	case "TEMPLATE":
		p, err = createTemplate(args, env.Registry, logger)
	case "IGNORE_PACKET":
		p, err = createIgnorePacket(args, env.Registry, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, desc.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s protocol: %w", kind, err)
	}

	logger.Debug("Created protocol", zap.String("direction", string(desc.Direction)))
	return p, nil
}

func createBurst(args Args, logger *zap.Logger) (Protocol, error) {
	config, err := parseBurstConfig(args)
	if err != nil {
		return nil, err
	}
	return NewBurst(config, logger)
}

func parseBurstConfig(args Args) (BurstConfig, error) {
	var config BurstConfig
	var err error

	// Parse discard leading bytes
	if config.DiscardLeadingBytes, err = args.Int("discard_leading_bytes", 0); err != nil {
		return config, err
	}

	// Parse sync pattern
	if config.SyncPattern, err = args.Hex("sync_pattern"); err != nil {
		return config, err
	}

	// Parse fill fields
	if config.FillFields, err = args.Bool("fill_fields", false); err != nil {
		return config, err
	}

	config.AllowEmptyData, err = args.OptionalBool("allow_empty_data")
	return config, err
}

func createLength(args Args, logger *zap.Logger) (Protocol, error) {
	config := DefaultLengthConfig()
	var err error

	if config.BitOffset, err = args.Int("bit_offset", config.BitOffset); err != nil {
		return nil, err
	}
	if config.BitSize, err = args.Int("bit_size", config.BitSize); err != nil {
		return nil, err
	}
	if config.ValueOffset, err = args.Int("value_offset", config.ValueOffset); err != nil {
		return nil, err
	}
	if config.BytesPerCount, err = args.Int("bytes_per_count", config.BytesPerCount); err != nil {
		return nil, err
	}
	if config.Endianness, err = packet.ParseEndianness(args.String("endianness", "")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if config.DiscardLeadingBytes, err = args.Int("discard_leading_bytes", 0); err != nil {
		return nil, err
	}
	if config.SyncPattern, err = args.Hex("sync_pattern"); err != nil {
		return nil, err
	}
	if config.MaxLength, err = args.OptionalInt("max_length"); err != nil {
		return nil, err
	}
	if config.FillFields, err = args.Bool("fill_length_and_sync_pattern", false); err != nil {
		return nil, err
	}
	if config.AllowEmptyData, err = args.OptionalBool("allow_empty_data"); err != nil {
		return nil, err
	}

	logger.Info("Creating length protocol",
		zap.Int("bit_offset", config.BitOffset),
		zap.Int("bit_size", config.BitSize),
		zap.String("endianness", string(config.Endianness)),
	)
	return NewLength(config, logger)
}

func parseTerminatedConfig(args Args) (TerminatedConfig, error) {
	config := TerminatedConfig{}
	var err error

	if config.WriteTermination, err = args.Hex("write_termination_characters"); err != nil {
		return config, err
	}
	if config.ReadTermination, err = args.Hex("read_termination_characters"); err != nil {
		return config, err
	}
	if config.StripReadTermination, err = args.Bool("strip_read_termination", true); err != nil {
		return config, err
	}

	burst, err := parseBurstConfig(args)
	if err != nil {
		return config, err
	}
	config.DiscardLeadingBytes = burst.DiscardLeadingBytes
	config.SyncPattern = burst.SyncPattern
	config.FillFields = burst.FillFields
	config.AllowEmptyData = burst.AllowEmptyData
	return config, nil
}

func createTerminated(args Args, logger *zap.Logger) (Protocol, error) {
	config, err := parseTerminatedConfig(args)
	if err != nil {
		return nil, err
	}
	return NewTerminated(config, logger)
}

func createFixed(args Args, registry *packet.Registry, logger *zap.Logger) (Protocol, error) {
	burst, err := parseBurstConfig(args)
	if err != nil {
		return nil, err
	}
	config := FixedConfig{
		DiscardLeadingBytes: burst.DiscardLeadingBytes,
		SyncPattern:         burst.SyncPattern,
		FillFields:          burst.FillFields,
		AllowEmptyData:      burst.AllowEmptyData,
	}

	if config.MinIDSize, err = args.Int("min_id_size", 0); err != nil {
		return nil, err
	}
	if config.Telemetry, err = args.Bool("telemetry", true); err != nil {
		return nil, err
	}
	if config.UnknownRaise, err = args.Bool("unknown_raise", false); err != nil {
		return nil, err
	}
	return NewFixed(config, registry, logger)
}

func createCRC(args Args, logger *zap.Logger) (Protocol, error) {
	config := DefaultCRCConfig()
	var err error

	config.WriteItemName = args.String("write_item_name", "")
	if config.StripCRC, err = args.Bool("strip_crc", false); err != nil {
		return nil, err
	}
	config.BadStrategy = BadCRCStrategy(args.String("bad_strategy", string(BadCRCError)))
	if config.BitOffset, err = args.Int("bit_offset", config.BitOffset); err != nil {
		return nil, err
	}
	if config.BitSize, err = args.Int("bit_size", config.BitSize); err != nil {
		return nil, err
	}
	if config.Endianness, err = packet.ParseEndianness(args.String("endianness", "")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if config.Poly, err = args.OptionalUint("poly"); err != nil {
		return nil, err
	}
	if config.Seed, err = args.OptionalUint("seed"); err != nil {
		return nil, err
	}
	if config.Xor, err = args.OptionalBool("xor"); err != nil {
		return nil, err
	}
	if config.Reflect, err = args.OptionalBool("reflect"); err != nil {
		return nil, err
	}
	if config.AllowEmptyData, err = args.OptionalBool("allow_empty_data"); err != nil {
		return nil, err
	}

	logger.Info("Creating CRC protocol",
		zap.Int("bit_offset", config.BitOffset),
		zap.Int("bit_size", config.BitSize),
		zap.String("bad_strategy", string(config.BadStrategy)),
	)
	return NewCRC(config, logger)
}

func createPreidentified(args Args, registry *packet.Registry, logger *zap.Logger) (Protocol, error) {
	var config PreidentifiedConfig
	var err error

	if config.SyncPattern, err = args.Hex("sync_pattern"); err != nil {
		return nil, err
	}
	if config.MaxLength, err = args.OptionalInt("max_length"); err != nil {
		return nil, err
	}
	if config.Mode, err = args.Int("mode", 0); err != nil {
		return nil, err
	}
	if config.AllowEmptyData, err = args.OptionalBool("allow_empty_data"); err != nil {
		return nil, err
	}
	return NewPreidentified(config, registry, logger)
}

func createOverride(args Args, registry *packet.Registry, logger *zap.Logger) (Protocol, error) {
	allowEmptyData, err := args.OptionalBool("allow_empty_data")
	if err != nil {
		return nil, err
	}
	return NewOverride(registry, allowEmptyData, logger), nil
}

func createTemplate(args Args, registry *packet.Registry, logger *zap.Logger) (Protocol, error) {
	terminated, err := parseTerminatedConfig(args)
	if err != nil {
		return nil, err
	}

	config := DefaultTemplateConfig()
	config.WriteTermination = terminated.WriteTermination
	config.ReadTermination = terminated.ReadTermination
	config.StripReadTermination = terminated.StripReadTermination
	config.DiscardLeadingBytes = terminated.DiscardLeadingBytes
	config.SyncPattern = terminated.SyncPattern
	config.FillFields = terminated.FillFields
	config.AllowEmptyData = terminated.AllowEmptyData

	if config.IgnoreLines, err = args.Int("ignore_lines", 0); err != nil {
		return nil, err
	}
	if config.InitialReadDelay, err = args.Duration("initial_read_delay", 0); err != nil {
		return nil, err
	}
	if config.ResponseLines, err = args.Int("response_lines", config.ResponseLines); err != nil {
		return nil, err
	}
	if config.ResponseTimeout, err = args.Duration("response_timeout", config.ResponseTimeout); err != nil {
		return nil, err
	}
	if config.ResponsePollingPeriod, err = args.Duration("response_polling_period", config.ResponsePollingPeriod); err != nil {
		return nil, err
	}
	if config.RaiseExceptions, err = args.Bool("raise_exceptions", false); err != nil {
		return nil, err
	}
	return NewTemplate(config, registry, logger)
}

func createIgnorePacket(args Args, registry *packet.Registry, logger *zap.Logger) (Protocol, error) {
	target := args.String("target_name", "")
	name := args.String("packet_name", "")
	if target == "" || name == "" {
		return nil, fmt.Errorf("%w: target_name and packet_name are required", ErrInvalidConfig)
	}
	allowEmptyData, err := args.OptionalBool("allow_empty_data")
	if err != nil {
		return nil, err
	}
	return NewIgnorePacket(target, name, registry, allowEmptyData, logger)
}
