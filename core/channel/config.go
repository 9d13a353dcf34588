package channel

// Config holds the transport endpoints and tuning knobs for a worker's
// channel pair. Load it with core/config:
//
//	var cfg channel.Config
//	config.MustLoad(&cfg)
//
//	ch, pch, err := channel.Connect(cfg, nil, nil)
type Config struct {
	// ChannelSocket is the unix socket carrying structured control
	// frames.
	ChannelSocket string `env:"MEDIAPROXY_CHANNEL_SOCKET,required"`

	// PayloadSocket is the unix socket carrying binary payload frames.
	PayloadSocket string `env:"MEDIAPROXY_PAYLOAD_SOCKET,required"`

	// MaxFrameSize bounds a single frame on either socket.
	MaxFrameSize int `env:"MEDIAPROXY_MAX_FRAME_SIZE" envDefault:"4194304"`

	// BufferSize is the capacity of each transport's inbound message
	// channel.
	BufferSize int `env:"MEDIAPROXY_BUFFER_SIZE" envDefault:"128"`
}

// Connect dials both worker sockets and returns the channel pair.
// Additional options apply to the control channel and the payload
// channel respectively.
func Connect(cfg Config, chOpts []Option, pcOpts []PayloadOption) (*Channel, *PayloadChannel, error) {
	control, err := Dial(cfg.ChannelSocket,
		WithMaxFrameSize(cfg.MaxFrameSize), WithMessageBuffer(cfg.BufferSize))
	if err != nil {
		return nil, nil, err
	}

	payload, err := Dial(cfg.PayloadSocket,
		WithMaxFrameSize(cfg.MaxFrameSize), WithMessageBuffer(cfg.BufferSize))
	if err != nil {
		_ = control.Close()
		return nil, nil, err
	}

	return NewChannel(control, chOpts...), NewPayloadChannel(payload, pcOpts...), nil
}
